package nft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rs-ent/starglow-sub015/internal/metrics"
	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/plugin/common"
	"github.com/rs-ent/starglow-sub015/storage"
)

const failedMessage = "Failed to process NFT payment"

var _ common.Handler = (*Handler)(nil)

// Handler fulfils PAID payments for NFTs. It owns the payment from the
// PAID -> PROCESSING transition until the final COMPLETED or FAILED write.
type Handler struct {
	db       storage.DatabaseStorage
	executor TransferExecutor
	outcome  *common.Outcome
	cfg      *Config
	metrics  metrics.Recorder
	logger   logrus.FieldLogger
	tracer   trace.Tracer
}

func NewHandler(
	db storage.DatabaseStorage,
	executor TransferExecutor,
	outcome *common.Outcome,
	cfg *Config,
	recorder metrics.Recorder,
	logger logrus.FieldLogger,
) (*Handler, error) {
	if db == nil {
		return nil, fmt.Errorf("database storage cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if outcome == nil {
		return nil, fmt.Errorf("outcome cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Handler{
		db:       db,
		executor: executor,
		outcome:  outcome,
		cfg:      cfg,
		metrics:  recorder,
		logger:   logger.WithField("plugin", "nft"),
		tracer:   otel.Tracer(tracerName),
	}, nil
}

func (h *Handler) Handle(ctx context.Context, p types.Payment) types.Result {
	if res, done := common.CheckStatus(p); done {
		return res
	}

	ctx, span := h.tracer.Start(ctx, "nft.Handle", trace.WithAttributes(
		attribute.String("payment_id", p.ID),
		attribute.Int("quantity", p.Quantity),
	))
	defer span.End()

	logger := h.logger.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"run_id":     uuid.NewString(),
	})

	locked, err := h.db.TransitionPaymentStatus(ctx, p.ID, types.PaymentStatusPaid, types.PaymentStatusProcessing)
	if err != nil {
		logger.WithError(err).Error("failed to lock payment")
		return types.FailWithDetails(types.ErrProcessingFailed, failedMessage, types.ErrorMessage(err))
	}
	if !locked {
		logger.Info("payment is no longer PAID, skipping")
		return types.Fail(types.ErrProcessingInProgress, "Payment is already being processed")
	}

	data, prev, err := h.run(ctx, p, logger)

	// The run owns the payment row; its final write must not be lost to a
	// cancelled caller.
	persistCtx := context.WithoutCancel(ctx)

	if err == nil {
		logger.WithField("tx_hash", data.TransactionHash).Info("nft payment fulfilled")
		return h.outcome.Complete(persistCtx, p.ID, data)
	}

	var delivered *types.TransferData
	fields := logrus.Fields{}
	if prev != nil && len(prev.Batches) > 0 {
		delivered = prev.result()
		fields["tx_hashes"] = prev.hashes()
		fields["token_ids"] = delivered.TokenIDs
	}

	if fe, ok := types.AsFulfillmentError(err); ok {
		fields["code"] = fe.Code
		logger.WithFields(fields).WithError(err).Warn("nft payment failed")
		return h.outcome.FailDelivered(persistCtx, p.ID, err, delivered, types.FailWith(fe))
	}

	if ctx.Err() != nil && prev == nil {
		// Nothing was sent: hand the payment back so it can be picked up again.
		if _, rerr := h.db.TransitionPaymentStatus(persistCtx, p.ID, types.PaymentStatusProcessing, types.PaymentStatusPaid); rerr != nil {
			logger.WithError(rerr).Error("failed to release payment lock")
		}
		logger.WithError(err).Warn("nft payment interrupted before submission")
		return types.FailWithDetails(types.ErrProcessingFailed, failedMessage, types.ErrorMessage(err))
	}

	fields["attempts"] = h.cfg.MaxAttempts
	logger.WithFields(fields).WithError(err).Error("nft payment failed after retries")
	return h.outcome.FailDelivered(persistCtx, p.ID, err, delivered,
		types.FailWithDetails(types.ErrProcessingFailed, failedMessage, types.ErrorMessage(err)))
}

// run retries the executor with exponential backoff. Business failures end
// the loop at once; anything else, panics included, is retried until
// MaxAttempts calls have been made.
func (h *Handler) run(ctx context.Context, p types.Payment, logger logrus.FieldLogger) (*types.TransferData, *Submission, error) {
	var prev *Submission
	attempt := 0

	op := func() (*types.TransferData, error) {
		attempt++
		data, err := h.attempt(ctx, ExecuteRequest{Payment: p, Previous: prev, Attempt: attempt})
		if err == nil && data == nil {
			err = errors.New("transfer returned no result")
		}
		if err == nil {
			h.metrics.IncTransferAttempt(metrics.OutcomeSuccess)
			return data, nil
		}

		var submitted *SubmittedError
		if errors.As(err, &submitted) {
			prev = submitted.Submission
		}
		if _, ok := types.AsFulfillmentError(err); ok {
			h.metrics.IncTransferAttempt(metrics.OutcomeFailure)
			return nil, backoff.Permanent(err)
		}
		h.metrics.IncTransferAttempt(metrics.OutcomeRetry)
		return nil, err
	}

	notify := func(err error, next time.Duration) {
		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"next_in": next.String(),
		}).WithError(err).Warn("transfer attempt failed, retrying")
	}

	data, err := backoff.RetryNotifyWithData(op, h.backoff(ctx), notify)
	return data, prev, err
}

func (h *Handler) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.cfg.InitialInterval
	b.MaxInterval = h.cfg.MaxInterval
	b.Multiplier = h.cfg.Multiplier
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(h.cfg.MaxAttempts-1)), ctx)
}

func (h *Handler) attempt(ctx context.Context, req ExecuteRequest) (data *types.TransferData, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NormalizePanic(r)
		}
	}()
	return h.executor.Execute(ctx, req)
}
