package redeem

import "time"

// FollowMinAge is how long a viewer must have followed the channel before the
// speech reward is granted.
const FollowMinAge = 7 * 24 * time.Hour

// Reason explains why a redemption was rejected.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNotFollowing
	ReasonFollowedTooRecently
)

func (r Reason) String() string {
	switch r {
	case ReasonNotFollowing:
		return "not_following"
	case ReasonFollowedTooRecently:
		return "followed_too_recently"
	default:
		return "none"
	}
}

// Evaluate applies the follow policy. The broadcaster is always eligible
// regardless of follow status. A nil followedAt means the viewer is not
// following. The comparison is strict: a follow at exactly minAge ago is
// eligible.
func Evaluate(broadcasterID, viewerID string, followedAt *time.Time, minAge time.Duration, now time.Time) (bool, Reason) {
	if viewerID == broadcasterID {
		return true, ReasonNone
	}
	if followedAt == nil {
		return false, ReasonNotFollowing
	}
	if followedAt.After(now.Add(-minAge)) {
		return false, ReasonFollowedTooRecently
	}
	return true, ReasonNone
}
