package common

import (
	"fmt"

	"github.com/rs-ent/starglow-sub015/internal/types"
)

// CheckStatus resolves every payment status that must not reach fulfillment.
// It returns ok=false only for PAID, which the caller goes on to process.
func CheckStatus(p types.Payment) (types.Result, bool) {
	switch p.Status {
	case types.PaymentStatusPaid:
		return types.Result{}, false
	case types.PaymentStatusCancelled:
		return types.Fail(types.ErrProcessingCancelled, "Payment cancelled"), true
	case types.PaymentStatusRefunded:
		return types.Succeed(types.RefundedData{
			Status:     types.PaymentStatusRefunded,
			RefundedAt: p.RefundedAt,
		}), true
	case types.PaymentStatusFailed:
		return types.FailWithDetails(types.ErrProcessingFailed, "Payment failed", p.StatusReason), true
	case types.PaymentStatusProcessing:
		return types.Fail(types.ErrProcessingInProgress, "Payment is already being processed"), true
	default:
		return types.Fail(types.ErrInvalidPaymentStatus, fmt.Sprintf("Invalid payment status: %s", p.Status)), true
	}
}
