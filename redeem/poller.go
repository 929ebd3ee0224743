package redeem

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/tts-tender/telemetry"
	"github.com/onnwee/tts-tender/twitchapi"
)

// PointsSource is the Helix channel-points surface the poller consumes.
type PointsSource interface {
	GetCustomRewards(ctx context.Context, broadcasterID string) ([]twitchapi.CustomReward, error)
	ListRedemptions(ctx context.Context, broadcasterID, rewardID, status string, first int) ([]twitchapi.Redemption, error)
	UpdateRedemptionStatus(ctx context.Context, broadcasterID, rewardID, redemptionID, status string) error
}

// StartRedemptionPoller drives the orchestrator from the platform's redemption
// queue. It resolves the configured reward title to its id, then polls pending
// redemptions and settles each one: spoken redemptions are marked FULFILLED,
// rejected ones are refunded by the reconciler inside Fulfill. Runs until ctx
// is canceled; call it from a goroutine.
func StartRedemptionPoller(ctx context.Context, points PointsSource, orch *Orchestrator, broadcasterID, rewardTitle string, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	slog.Info("redemption poller: started",
		slog.String("reward", rewardTitle),
		slog.Duration("interval", interval))

	var rewardID string
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("redemption poller: stopped")
			return
		case <-ticker.C:
		}

		if rewardID == "" {
			id, err := resolveRewardID(ctx, points, broadcasterID, rewardTitle)
			if err != nil {
				slog.Debug("redemption poller: reward lookup", slog.Any("err", err))
				continue
			}
			if id == "" {
				slog.Warn("redemption poller: reward not configured on channel", slog.String("reward", rewardTitle))
				continue
			}
			rewardID = id
			slog.Info("redemption poller: resolved reward", slog.String("reward_id", rewardID))
		}

		pending, err := points.ListRedemptions(ctx, broadcasterID, rewardID, twitchapi.StatusUnfulfilled, 20)
		if err != nil {
			slog.Warn("redemption poller: list failed", slog.Any("err", err))
			continue
		}
		for _, p := range pending {
			handleRedemption(ctx, points, orch, broadcasterID, p)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func resolveRewardID(ctx context.Context, points PointsSource, broadcasterID, title string) (string, error) {
	rewards, err := points.GetCustomRewards(ctx, broadcasterID)
	if err != nil {
		return "", err
	}
	for _, rw := range rewards {
		if rw.Title == title {
			return rw.ID, nil
		}
	}
	return "", nil
}

func handleRedemption(ctx context.Context, points PointsSource, orch *Orchestrator, broadcasterID string, p twitchapi.Redemption) {
	ctx = telemetry.WithCorrelation(ctx, uuid.New().String())
	ctx, span := telemetry.StartSpan(ctx, "redeem.fulfill")
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("redemption_id", p.ID),
		slog.String("user", p.UserLogin))

	r := NewLiveRedemption(p.UserLogin, p.UserInput, p.RewardID, p.ID)
	var spoken bool
	var err error
	telemetry.TimeFunc(telemetry.FulfillDuration, func() {
		spoken, err = orch.Fulfill(ctx, r)
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		logger.Error("redemption fulfillment failed", slog.Any("err", err))
		return
	}
	if !spoken {
		// Rejected: the reconciler already refunded the transaction.
		return
	}
	if err := points.UpdateRedemptionStatus(ctx, broadcasterID, p.RewardID, p.ID, twitchapi.StatusFulfilled); err != nil {
		logger.Warn("mark redemption fulfilled failed", slog.Any("err", err))
	}
}
