package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/internal/metrics"
	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/storage"
)

const DefaultSpec = "*/5 * * * *"

// Queue puts a payment on the fulfillment queue. It reports false when a
// task for the payment already exists.
type Queue interface {
	Enqueue(ctx context.Context, paymentID string) (bool, error)
}

type Config struct {
	Spec        string        `mapstructure:"spec" json:"spec,omitempty"`
	GracePeriod time.Duration `mapstructure:"grace_period" json:"grace_period,omitempty"`
	StaleAfter  time.Duration `mapstructure:"stale_after" json:"stale_after,omitempty"`
	BatchLimit  int           `mapstructure:"batch_limit" json:"batch_limit,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.Spec == "" {
		c.Spec = DefaultSpec
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 2 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Hour
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	return c
}

type SweepResult struct {
	Enqueued int
	Skipped  int
	Stale    []string
}

// Reconciler periodically picks up payments that fell out of the normal flow:
// PAID payments nobody processed and PROCESSING payments whose run never
// finished. Stale PROCESSING payments are only reported; their permit may
// still land, so they need a manual decision.
type Reconciler struct {
	db      storage.DatabaseStorage
	queue   Queue
	cfg     Config
	metrics metrics.Recorder
	logger  logrus.FieldLogger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewReconciler(
	db storage.DatabaseStorage,
	queue Queue,
	cfg Config,
	recorder metrics.Recorder,
	logger logrus.FieldLogger,
) (*Reconciler, error) {
	if db == nil {
		return nil, fmt.Errorf("database storage cannot be nil")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	cfg = cfg.withDefaults()
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return nil, fmt.Errorf("failed to parse cron expression: %w", err)
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Reconciler{
		db:      db,
		queue:   queue,
		cfg:     cfg,
		metrics: recorder,
		logger:  logger.WithField("component", "reconciler"),
		now:     time.Now,
	}, nil
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := r.now()
	logger := r.logger.WithField("sweep_id", uuid.NewString())

	paid, err := r.db.ListPaymentsByStatus(ctx, types.PaymentStatusPaid, now.Add(-r.cfg.GracePeriod), r.cfg.BatchLimit)
	if err != nil {
		return res, fmt.Errorf("r.db.ListPaymentsByStatus: %w", err)
	}
	for _, p := range paid {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		queued, err := r.queue.Enqueue(ctx, p.ID)
		if err != nil {
			logger.WithField("payment_id", p.ID).WithError(err).Error("failed to enqueue payment")
			continue
		}
		if queued {
			res.Enqueued++
		} else {
			res.Skipped++
		}
	}

	stuck, err := r.db.ListPaymentsByStatus(ctx, types.PaymentStatusProcessing, now.Add(-r.cfg.StaleAfter), r.cfg.BatchLimit)
	if err != nil {
		return res, fmt.Errorf("r.db.ListPaymentsByStatus: %w", err)
	}
	for _, p := range stuck {
		res.Stale = append(res.Stale, p.ID)
		logger.WithFields(logrus.Fields{
			"payment_id": p.ID,
			"updated_at": p.UpdatedAt,
		}).Warn("payment stuck in PROCESSING, needs manual reconciliation")
	}

	r.metrics.IncReconciled(res.Enqueued, len(res.Stale))
	logger.WithFields(logrus.Fields{
		"enqueued": res.Enqueued,
		"skipped":  res.Skipped,
		"stale":    len(res.Stale),
	}).Info("reconciliation sweep finished")
	return res, nil
}

// Start schedules Sweep on the configured cron spec.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reconciler already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(r.cfg.Spec, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.WithError(err).Error("reconciliation sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("c.AddFunc: %w", err)
	}
	c.Start()
	r.cron = c
	r.logger.WithField("spec", r.cfg.Spec).Info("reconciler started")
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("reconciler stopped")
}
