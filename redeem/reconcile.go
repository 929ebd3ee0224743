package redeem

import (
	"context"
	"fmt"

	"github.com/onnwee/tts-tender/twitchapi"
)

// RedemptionSettler updates a channel-point redemption's status on the platform.
type RedemptionSettler interface {
	UpdateRedemptionStatus(ctx context.Context, broadcasterID, rewardID, redemptionID, status string) error
}

// Reconciler refunds channel points for rejected redemptions by canceling the
// platform transaction. Synthetic redemptions carry no transaction and are
// skipped.
type Reconciler struct {
	Points        RedemptionSettler
	BroadcasterID string
}

// Reconcile cancels the transaction, refunding its cost to the viewer. A nil
// transaction is a no-op: nothing to settle for synthetic invocations.
func (r *Reconciler) Reconcile(ctx context.Context, txn *Transaction) error {
	if txn == nil {
		return nil
	}
	if err := r.Points.UpdateRedemptionStatus(ctx, r.BroadcasterID, txn.RewardID, txn.RedemptionID, twitchapi.StatusCanceled); err != nil {
		return fmt.Errorf("cancel redemption %s: %w", txn.RedemptionID, err)
	}
	return nil
}
