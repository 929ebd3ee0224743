// Package redeem implements the channel-point redemption fulfillment pipeline:
// eligibility evaluation against the follow policy, viewer notification with a
// public fallback, transaction reconciliation (refunds), and speech synthesis
// dispatch.
package redeem

// Transaction identifies a live channel-point transaction on the platform.
type Transaction struct {
	RewardID     string
	RedemptionID string
}

// Redemption is a viewer's claim of the speech reward. Live redemptions carry
// the platform transaction to settle; synthetic ones (chat command, admin
// endpoint) carry none, so reconciliation is explicitly a no-op for them.
type Redemption struct {
	UserName string
	Message  string
	Txn      *Transaction
}

// NewLiveRedemption builds a redemption backed by a platform transaction.
func NewLiveRedemption(userName, message, rewardID, redemptionID string) Redemption {
	return Redemption{
		UserName: userName,
		Message:  message,
		Txn:      &Transaction{RewardID: rewardID, RedemptionID: redemptionID},
	}
}

// NewSyntheticRedemption builds a transactionless redemption for local testing
// and chat-triggered invocations.
func NewSyntheticRedemption(userName, message string) Redemption {
	return Redemption{UserName: userName, Message: message}
}

// Live reports whether the redemption has a platform transaction to settle.
func (r Redemption) Live() bool { return r.Txn != nil }
