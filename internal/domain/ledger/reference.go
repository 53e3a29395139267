package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Deterministic references identify the real-world event behind an entry.
// Repeating the event yields the same reference and is rejected as a
// duplicate by (user_id, type, reference).

func ReferralAppliedRef(referrerID uuid.UUID) string {
	return "referral_applied_" + referrerID.String()
}

func ReferralBonusRef(newUserID uuid.UUID) string {
	return "referral_bonus_" + newUserID.String()
}

func QuizRewardRef(quizID, userID uuid.UUID) string {
	return fmt.Sprintf("quiz_reward_%s_%s", quizID, userID)
}

func OrderRef(transactionID uuid.UUID) string {
	return "order_" + transactionID.String()
}

func OrderRefundRef(transactionID uuid.UUID) string {
	return "refund_" + transactionID.String()
}

func WithdrawalRef(withdrawalID uuid.UUID) string {
	return "withdrawal_" + withdrawalID.String()
}

func WithdrawalReleaseRef(withdrawalID uuid.UUID) string {
	return "withdrawal_release_" + withdrawalID.String()
}

func WithdrawalCancelRef(withdrawalID uuid.UUID) string {
	return "withdrawal_cancel_" + withdrawalID.String()
}
