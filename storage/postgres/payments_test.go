package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/storage"
)

func newTestBackend(t *testing.T) *PostgresBackend {
	t.Helper()
	dsn := os.Getenv("FULFILLMENT_TEST_DSN")
	if dsn == "" {
		t.Skip("FULFILLMENT_TEST_DSN not set, skipping postgres integration test")
	}
	backend, err := NewPostgresBackend(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func insertPayment(t *testing.T, backend *PostgresBackend, status types.PaymentStatus) string {
	t.Helper()
	id := uuid.NewString()
	_, err := backend.pool.Exec(context.Background(),
		`insert into payments (id, user_id, product_table, product_id, quantity, status, receiver_wallet_address)
		 values ($1, $2, $3, $4, $5, $6, $7)`,
		id, "user-1", string(types.ProductTableNFTs), "collection-1", 2, string(status),
		"0x00000000000000000000000000000000000000aa",
	)
	require.NoError(t, err)
	return id
}

func TestPayments(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	t.Run("get missing payment", func(t *testing.T) {
		_, err := backend.GetPayment(ctx, uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("transition only from expected status", func(t *testing.T) {
		id := insertPayment(t, backend, types.PaymentStatusPaid)

		won, err := backend.TransitionPaymentStatus(ctx, id, types.PaymentStatusPaid, types.PaymentStatusProcessing)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = backend.TransitionPaymentStatus(ctx, id, types.PaymentStatusPaid, types.PaymentStatusProcessing)
		require.NoError(t, err)
		assert.False(t, won)
	})

	t.Run("update writes outcome fields", func(t *testing.T) {
		id := insertPayment(t, backend, types.PaymentStatusProcessing)
		status := types.PaymentStatusCompleted
		now := time.Now().UTC().Truncate(time.Millisecond)

		err := backend.UpdatePayment(ctx, id, types.PaymentUpdate{
			Status:              &status,
			PostProcessResult:   types.TransferData{TransactionHash: "0x123"},
			PostProcessResultAt: &now,
			CompletedAt:         &now,
		})
		require.NoError(t, err)

		got, err := backend.GetPayment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.PaymentStatusCompleted, got.Status)
		assert.JSONEq(t, `{"transactionHash":"0x123"}`, string(got.PostProcessResult))
		require.NotNil(t, got.CompletedAt)
		assert.WithinDuration(t, now, *got.CompletedAt, time.Millisecond)
	})

	t.Run("list by status", func(t *testing.T) {
		id := insertPayment(t, backend, types.PaymentStatusPaid)
		payments, err := backend.ListPaymentsByStatus(ctx, types.PaymentStatusPaid, time.Now().Add(time.Minute), 1000)
		require.NoError(t, err)

		var found bool
		for _, p := range payments {
			if p.ID == id {
				found = true
			}
		}
		assert.True(t, found)
	})
}
