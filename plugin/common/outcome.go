package common

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/internal/cache"
	"github.com/rs-ent/starglow-sub015/internal/metrics"
	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/storage"
)

// InvalidationPolicy decides whether a failed cache invalidation changes the
// reported outcome of an otherwise successful fulfillment.
type InvalidationPolicy string

const (
	// InvalidationStrict reports PROCESSING_FAILED when invalidation fails. The
	// payment row stays COMPLETED.
	InvalidationStrict InvalidationPolicy = "strict"
	// InvalidationBestEffort logs the failure and reports success.
	InvalidationBestEffort InvalidationPolicy = "best_effort"
)

func ParseInvalidationPolicy(s string) (InvalidationPolicy, error) {
	switch InvalidationPolicy(s) {
	case "", InvalidationStrict:
		return InvalidationStrict, nil
	case InvalidationBestEffort:
		return InvalidationBestEffort, nil
	default:
		return "", fmt.Errorf("unknown invalidation policy %q", s)
	}
}

// Outcome writes the terminal state of a fulfillment run back to the payment.
type Outcome struct {
	db      storage.DatabaseStorage
	cache   cache.Invalidator
	policy  InvalidationPolicy
	metrics metrics.Recorder
	logger  logrus.FieldLogger
	now     func() time.Time
}

func NewOutcome(
	db storage.DatabaseStorage,
	invalidator cache.Invalidator,
	policy InvalidationPolicy,
	recorder metrics.Recorder,
	logger logrus.FieldLogger,
) (*Outcome, error) {
	if db == nil {
		return nil, fmt.Errorf("database storage cannot be nil")
	}
	if invalidator == nil {
		invalidator = cache.Nop{}
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if policy == "" {
		policy = InvalidationStrict
	}
	return &Outcome{
		db:      db,
		cache:   invalidator,
		policy:  policy,
		metrics: recorder,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Complete marks the payment COMPLETED with data as its postProcessResult and
// invalidates the payment's cached view.
func (o *Outcome) Complete(ctx context.Context, paymentID string, data any) types.Result {
	now := o.now()
	status := types.PaymentStatusCompleted
	err := o.db.UpdatePayment(ctx, paymentID, types.PaymentUpdate{
		Status:              &status,
		CompletedAt:         &now,
		PostProcessResult:   data,
		PostProcessResultAt: &now,
	})
	if err != nil {
		o.logger.WithField("payment_id", paymentID).WithError(err).Error("failed to persist completed payment")
		return types.FailWithDetails(types.ErrProcessingFailed, "Failed to save fulfillment result", types.ErrorMessage(err))
	}

	if err := o.cache.Invalidate(ctx, PaymentPath(paymentID)); err != nil {
		o.metrics.IncInvalidation(metrics.OutcomeFailure)
		o.logger.WithFields(logrus.Fields{
			"payment_id": paymentID,
			"policy":     o.policy,
		}).WithError(err).Warn("failed to invalidate payment cache")
		if o.policy == InvalidationStrict {
			return types.FailWithDetails(types.ErrProcessingFailed, "Failed to invalidate payment cache", types.ErrorMessage(err))
		}
	} else {
		o.metrics.IncInvalidation(metrics.OutcomeSuccess)
	}

	return types.Succeed(data)
}

// Fail marks the payment FAILED, recording cause, and returns result unless
// the write itself fails.
func (o *Outcome) Fail(ctx context.Context, paymentID string, cause error, result types.Result) types.Result {
	return o.FailDelivered(ctx, paymentID, cause, nil, result)
}

// FailDelivered is Fail for a run that already moved part of the order.
// delivered is stored alongside the error.
func (o *Outcome) FailDelivered(ctx context.Context, paymentID string, cause error, delivered *types.TransferData, result types.Result) types.Result {
	serialized := types.SerializeError(cause)
	serialized.Delivered = delivered

	reason := types.ErrorMessage(cause)
	if fe, ok := types.AsFulfillmentError(cause); ok && fe.Message != "" {
		reason = fe.Message
	}

	now := o.now()
	status := types.PaymentStatusFailed
	err := o.db.UpdatePayment(ctx, paymentID, types.PaymentUpdate{
		Status:              &status,
		StatusReason:        &reason,
		PostProcessResult:   serialized,
		PostProcessResultAt: &now,
	})
	if err != nil {
		o.logger.WithField("payment_id", paymentID).WithError(err).Error("failed to persist failed payment")
		return types.FailWithDetails(types.ErrProcessingFailed, "Failed to save fulfillment result", types.ErrorMessage(err))
	}
	return result
}
