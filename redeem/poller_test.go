package redeem

import (
	"context"
	"testing"

	"github.com/onnwee/tts-tender/twitchapi"
)

type fakePoints struct {
	rewards  []twitchapi.CustomReward
	pending  []twitchapi.Redemption
	updated  []string // "id:status"
	listErr  error
	rewdErr  error
	statuses map[string]string
}

func (f *fakePoints) GetCustomRewards(context.Context, string) ([]twitchapi.CustomReward, error) {
	return f.rewards, f.rewdErr
}

func (f *fakePoints) ListRedemptions(_ context.Context, _, _, status string, _ int) ([]twitchapi.Redemption, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if status != twitchapi.StatusUnfulfilled {
		return nil, nil
	}
	return f.pending, nil
}

func (f *fakePoints) UpdateRedemptionStatus(_ context.Context, _, _, redemptionID, status string) error {
	f.updated = append(f.updated, redemptionID+":"+status)
	if f.statuses == nil {
		f.statuses = map[string]string{}
	}
	f.statuses[redemptionID] = status
	return nil
}

func TestResolveRewardID(t *testing.T) {
	points := &fakePoints{rewards: []twitchapi.CustomReward{
		{ID: "r-song", Title: "Song Request"},
		{ID: "r-tts", Title: "TTS"},
	}}
	id, err := resolveRewardID(context.Background(), points, "b1", "TTS")
	if err != nil {
		t.Fatalf("resolveRewardID: %v", err)
	}
	if id != "r-tts" {
		t.Fatalf("id = %q, want r-tts", id)
	}

	id, err = resolveRewardID(context.Background(), points, "b1", "Missing")
	if err != nil || id != "" {
		t.Fatalf("missing reward: id=%q err=%v", id, err)
	}
}

func TestHandleRedemptionMarksFulfilled(t *testing.T) {
	p := newPipeline(t)
	points := &fakePoints{}
	handleRedemption(context.Background(), points, p.orch, "b1", twitchapi.Redemption{
		ID: "x1", UserLogin: "alice", UserInput: "good stream", RewardID: "r-tts",
	})
	if got := points.statuses["x1"]; got != twitchapi.StatusFulfilled {
		t.Fatalf("status = %q, want FULFILLED", got)
	}
	if len(p.speaker.spoken) != 1 {
		t.Fatalf("spoken = %v", p.speaker.spoken)
	}
}

func TestHandleRedemptionRejectedNotMarkedFulfilled(t *testing.T) {
	p := newPipeline(t)
	points := &fakePoints{}
	handleRedemption(context.Background(), points, p.orch, "b1", twitchapi.Redemption{
		ID: "x2", UserLogin: "bob", UserInput: "hi", RewardID: "r-tts",
	})
	// The refund goes through the orchestrator's settler; the poller itself
	// must not touch the redemption again.
	if len(points.updated) != 0 {
		t.Fatalf("poller updates = %v", points.updated)
	}
	if got := p.settler.statuses[0]; got != twitchapi.StatusCanceled {
		t.Fatalf("settled status = %q, want CANCELED", got)
	}
}

func TestHandleRedemptionUnknownUserLeavesPending(t *testing.T) {
	p := newPipeline(t)
	points := &fakePoints{}
	handleRedemption(context.Background(), points, p.orch, "b1", twitchapi.Redemption{
		ID: "x3", UserLogin: "ghost", UserInput: "hi", RewardID: "r-tts",
	})
	if len(points.updated) != 0 {
		t.Fatalf("updates = %v", points.updated)
	}
}
