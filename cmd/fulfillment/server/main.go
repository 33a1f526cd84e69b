package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/common"
	"github.com/rs-ent/starglow-sub015/internal/api"
	"github.com/rs-ent/starglow-sub015/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := common.LoadConfig(); err != nil {
		panic(err)
	}
	cfg := common.GetConfig()
	logger := logrus.StandardLogger()
	gin.SetMode(gin.ReleaseMode)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		panic(fmt.Errorf("app.New: %w", err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Error("failed to close resources")
		}
	}()

	auth, err := api.NewAuthenticator(cfg.Server.JWTSecret, cfg.Server.JWTIssuer)
	if err != nil {
		panic(fmt.Errorf("api.NewAuthenticator: %w", err))
	}
	server, err := api.NewServer(a.DB, a.Fulfillment, a.Queue, auth, a.Registry, a.Registry, logger)
	if err != nil {
		panic(fmt.Errorf("api.NewServer: %w", err))
	}
	if err := server.Start(ctx, cfg.Server.Addr()); err != nil {
		logger.WithError(err).Error("api server stopped")
	}
}
