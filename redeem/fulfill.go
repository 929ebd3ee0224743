package redeem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/tts-tender/telemetry"
	"github.com/onnwee/tts-tender/twitchapi"
)

// RejectionMessage is sent to viewers who fail the follow policy.
const RejectionMessage = "you must have followed the channel for more than 7 days to use this feature"

// UserNotFoundError reports that the redeemer's login did not resolve to a
// Twitch user. It carries the raw search term so the caller can surface it.
type UserNotFoundError struct {
	Login string
}

func (e *UserNotFoundError) Error() string { return "user not found: " + e.Login }

// Directory resolves identities and follow records against the broadcaster's channel.
type Directory interface {
	GetUserByLogin(ctx context.Context, login string) (*twitchapi.User, error)
	GetChannelFollower(ctx context.Context, broadcasterID, userID string) (*time.Time, error)
}

// Speaker synthesizes text into an archived audio artifact.
type Speaker interface {
	Speak(ctx context.Context, text, attribution string) (string, error)
}

// Orchestrator composes the fulfillment pipeline: identity resolution,
// eligibility, notification + reconciliation on reject, synthesis on accept.
type Orchestrator struct {
	Directory     Directory
	Notifier      *Notifier
	Reconciler    *Reconciler
	Speaker       Speaker
	BroadcasterID string
	MinFollowAge  time.Duration    // 0 means FollowMinAge
	Now           func() time.Time // nil means time.Now
}

func (o *Orchestrator) minFollowAge() time.Duration {
	if o.MinFollowAge > 0 {
		return o.MinFollowAge
	}
	return FollowMinAge
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Fulfill runs one redemption through the pipeline. It returns true when the
// message was spoken and false when the redemption was rejected (the viewer is
// notified and any live transaction refunded). Identity-resolution and
// synthesis failures propagate; synthesis failures after an accepted
// redemption do not refund the transaction.
func (o *Orchestrator) Fulfill(ctx context.Context, r Redemption) (bool, error) {
	telemetry.CountReceived()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("user", r.UserName), slog.Bool("live", r.Live()))

	login := strings.TrimPrefix(r.UserName, "@")
	viewer, err := o.Directory.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, twitchapi.ErrUserNotFound) {
			return false, &UserNotFoundError{Login: login}
		}
		return false, fmt.Errorf("resolve redeemer %q: %w", login, err)
	}

	// Follow status is re-queried on every redemption so eligibility always
	// reflects the current relationship.
	followedAt, err := o.Directory.GetChannelFollower(ctx, o.BroadcasterID, viewer.ID)
	if err != nil {
		return false, fmt.Errorf("follow lookup for %q: %w", login, err)
	}

	eligible, reason := Evaluate(o.BroadcasterID, viewer.ID, followedAt, o.minFollowAge(), o.now())
	if !eligible {
		logger.Info("redemption rejected", slog.String("reason", reason.String()))
		telemetry.CountRejected(reason.String())
		o.Notifier.Notify(ctx, *viewer, RejectionMessage)
		if err := o.Reconciler.Reconcile(ctx, r.Txn); err != nil {
			return false, err
		}
		return false, nil
	}

	text := fmt.Sprintf("%s said: %s", r.UserName, r.Message)
	if _, err := o.Speaker.Speak(ctx, text, r.UserName); err != nil {
		return false, err
	}
	telemetry.CountFulfilled()
	logger.Info("redemption fulfilled")
	return true, nil
}
