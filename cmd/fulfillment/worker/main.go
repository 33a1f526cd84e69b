package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/common"
	"github.com/rs-ent/starglow-sub015/internal/app"
	"github.com/rs-ent/starglow-sub015/internal/tasks"
	"github.com/rs-ent/starglow-sub015/service"
)

func main() {
	ctx := context.Background()

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

	taskHandler, err := service.NewTaskHandler(a.Fulfillment, logger)
	if err != nil {
		panic(fmt.Errorf("service.NewTaskHandler: %w", err))
	}

	srv := asynq.NewServer(
		a.RedisOpt,
		asynq.Config{
			Logger:      logger,
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				tasks.QUEUE_NAME: 10,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeProcessPayment, taskHandler.HandleProcessPayment)
	if err := srv.Run(mux); err != nil {
		panic(fmt.Errorf("could not run server: %w", err))
	}
}
