package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rs-ent/starglow-sub015/internal/metrics"
	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/plugin/common"
	"github.com/rs-ent/starglow-sub015/storage"
)

type Fulfillment interface {
	ProcessPayment(ctx context.Context, payment types.Payment) types.Result
	ProcessPaymentByID(ctx context.Context, paymentID string) (types.Result, error)
	ProcessBatch(ctx context.Context, payments []types.Payment, concurrency int) []types.Result
}

var _ Fulfillment = (*FulfillmentService)(nil)

// FulfillmentService routes a payment to the handler for its product table.
type FulfillmentService struct {
	db      storage.DatabaseStorage
	nft     common.Handler
	event   common.Handler
	metrics metrics.Recorder
	logger  logrus.FieldLogger
}

func NewFulfillmentService(
	db storage.DatabaseStorage,
	nft common.Handler,
	event common.Handler,
	recorder metrics.Recorder,
	logger logrus.FieldLogger,
) (*FulfillmentService, error) {
	if db == nil {
		return nil, fmt.Errorf("database storage cannot be nil")
	}
	if nft == nil || event == nil {
		return nil, fmt.Errorf("handlers cannot be nil")
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &FulfillmentService{
		db:      db,
		nft:     nft,
		event:   event,
		metrics: recorder,
		logger:  logger,
	}, nil
}

func (s *FulfillmentService) ProcessPayment(ctx context.Context, payment types.Payment) types.Result {
	start := time.Now()
	product := string(payment.ProductTable)

	var res types.Result
	switch job := types.JobFromPayment(payment).(type) {
	case types.NFTJob:
		res = s.nft.Handle(ctx, job.Payment())
	case types.EventJob:
		res = s.event.Handle(ctx, job.Payment())
	default:
		product = "unsupported"
		res = types.Fail(types.ErrInvalidProductTable, fmt.Sprintf("Invalid product table: %s", payment.ProductTable))
	}

	outcome := metrics.OutcomeSuccess
	if !res.Success {
		outcome = metrics.OutcomeFailure
		s.logger.WithFields(logrus.Fields{
			"payment_id":    payment.ID,
			"product_table": payment.ProductTable,
			"code":          res.Error.Code,
		}).Warn(res.Error.Message)
	}
	s.metrics.ObserveFulfillment(product, outcome, time.Since(start))
	return res
}

// ProcessPaymentByID loads the payment and processes it. The error is set
// only when the payment could not be read.
func (s *FulfillmentService) ProcessPaymentByID(ctx context.Context, paymentID string) (types.Result, error) {
	payment, err := s.db.GetPayment(ctx, paymentID)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Fail(types.ErrPaymentNotFound, fmt.Sprintf("Payment %s not found", paymentID)), nil
	}
	if err != nil {
		return types.Result{}, fmt.Errorf("s.db.GetPayment: %w", err)
	}
	return s.ProcessPayment(ctx, *payment), nil
}

// ProcessBatch processes payments concurrently, at most concurrency at a
// time. results[i] belongs to payments[i].
func (s *FulfillmentService) ProcessBatch(ctx context.Context, payments []types.Payment, concurrency int) []types.Result {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]types.Result, len(payments))
	sem := semaphore.NewWeighted(int64(concurrency))

	var eg errgroup.Group
	for i := range payments {
		err := ctx.Err()
		if err == nil {
			err = sem.Acquire(ctx, 1)
		}
		if err != nil {
			for j := i; j < len(payments); j++ {
				results[j] = types.FailWithDetails(types.ErrProcessingFailed, "Batch cancelled", err.Error())
			}
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)
			results[i] = s.ProcessPayment(ctx, payments[i])
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
