package common

import (
	"context"
	"fmt"

	"github.com/rs-ent/starglow-sub015/internal/types"
)

// Handler fulfils one product category. Every outcome is reported through the
// returned Result; handlers never hand a Go error back to the caller.
type Handler interface {
	Handle(ctx context.Context, payment types.Payment) types.Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payment types.Payment) types.Result

func (f HandlerFunc) Handle(ctx context.Context, payment types.Payment) types.Result {
	return f(ctx, payment)
}

// PaymentPath is the cached detail view of a payment.
func PaymentPath(paymentID string) string {
	return fmt.Sprintf("/payments/%s", paymentID)
}
