package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rs-ent/starglow-sub015/internal/types"
)

var ErrNotFound = errors.New("record not found")

type DatabaseStorage interface {
	Close() error

	GetPayment(ctx context.Context, id string) (*types.Payment, error)
	UpdatePayment(ctx context.Context, id string, update types.PaymentUpdate) error
	// TransitionPaymentStatus moves a payment from one status to another only if
	// it is currently in `from`. It reports whether this caller won the transition.
	TransitionPaymentStatus(ctx context.Context, id string, from, to types.PaymentStatus) (bool, error)
	ListPaymentsByStatus(ctx context.Context, status types.PaymentStatus, updatedBefore time.Time, limit int) ([]types.Payment, error)

	GetCollectionByAddress(ctx context.Context, address string) (*types.Collection, error)
	GetCollectionByID(ctx context.Context, id string) (*types.Collection, error)
}
