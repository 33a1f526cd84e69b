package event

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rs-ent/starglow-sub015/internal/types"
)

func TestHandler_Handle(t *testing.T) {
	paidAt := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	refundedAt := paidAt.Add(24 * time.Hour)

	tests := []struct {
		name     string
		status   types.PaymentStatus
		wantData any
		wantCode types.ErrorCode
	}{
		{
			name:     "paid",
			status:   types.PaymentStatusPaid,
			wantData: types.EventData{Status: types.PaymentStatusPaid, PaidAt: &paidAt},
		},
		{
			name:     "refunded",
			status:   types.PaymentStatusRefunded,
			wantData: types.RefundedData{Status: types.PaymentStatusRefunded, RefundedAt: &refundedAt},
		},
		{name: "cancelled", status: types.PaymentStatusCancelled, wantCode: types.ErrProcessingCancelled},
		{name: "failed", status: types.PaymentStatusFailed, wantCode: types.ErrProcessingFailed},
		{name: "completed", status: types.PaymentStatusCompleted, wantCode: types.ErrInvalidPaymentStatus},
		{name: "garbage", status: "paid", wantCode: types.ErrInvalidPaymentStatus},
	}

	h := NewHandler(logrus.New())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.Handle(context.Background(), types.Payment{
				ID:           "payment-" + tt.name,
				ProductTable: types.ProductTableEvents,
				ProductID:    "event-1",
				Quantity:     1,
				Status:       tt.status,
				PaidAt:       &paidAt,
				RefundedAt:   &refundedAt,
			})

			if tt.wantCode == "" {
				require.True(t, res.Success)
				assert.Equal(t, tt.wantData, res.Data)
				assert.Nil(t, res.Error)
				return
			}
			require.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.Error.Code)
		})
	}
}
