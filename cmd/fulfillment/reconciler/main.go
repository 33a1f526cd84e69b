package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/common"
	"github.com/rs-ent/starglow-sub015/internal/app"
	"github.com/rs-ent/starglow-sub015/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := common.LoadConfig(); err != nil {
		panic(err)
	}
	cfg := common.GetConfig()
	logger := logrus.StandardLogger()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		panic(fmt.Errorf("app.New: %w", err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Error("failed to close resources")
		}
	}()

	reconciler, err := scheduler.NewReconciler(a.DB, a.Queue, cfg.Reconciler, a.Metrics, logger)
	if err != nil {
		panic(fmt.Errorf("scheduler.NewReconciler: %w", err))
	}
	if _, err := reconciler.Sweep(ctx); err != nil {
		logger.WithError(err).Error("initial reconciliation sweep failed")
	}
	if err := reconciler.Start(ctx); err != nil {
		panic(fmt.Errorf("reconciler.Start: %w", err))
	}

	<-ctx.Done()
	reconciler.Stop()
}
