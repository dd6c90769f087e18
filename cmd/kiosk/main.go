// kiosk runs proof-of-life attempts back to back and serves gRPC health on GRPC_ADDR.
// Attempts are spaced at least KIOSK_INTERVAL apart.
package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"proof-of-life-gate/internal/app"
	"proof-of-life-gate/internal/config"
	"proof-of-life-gate/internal/health"
	"proof-of-life-gate/internal/logging"
	"proof-of-life-gate/internal/pipeline"
	"proof-of-life-gate/internal/server"
	"proof-of-life-gate/internal/telemetry"
)

const healthInterval = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Must("json", "").Fatal("config", zap.Error(err))
	}
	logger := logging.Must(cfg.LogFormat, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	presenter := pipeline.WriterPresenter(os.Stdout)
	a, err := app.Build(ctx, cfg, logger, "kiosk", presenter)
	if err != nil {
		logger.Fatal("setup failed", zap.Error(err))
	}
	for _, line := range pipeline.Banner() {
		presenter.Show(line)
	}

	var pinger health.Pinger
	if a.DB != nil {
		pinger = a.DB
	}
	checker := health.NewChecker(pinger, a.Policy, logger)
	go checker.Run(ctx, healthInterval)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
	s := server.NewServer(server.Deps{Health: checker, Events: a.Events, Logger: logger})
	go func() {
		logger.Info("gRPC health listening", zap.String("addr", cfg.GRPCAddr))
		if err := s.Serve(lis); err != nil {
			logger.Error("serve", zap.Error(err))
			stop()
		}
	}()

	limiter := rate.NewLimiter(rate.Every(cfg.KioskInterval()), 1)
	var granted, denied int
	for {
		if err := limiter.Wait(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Warn("rate limiter", zap.Error(err))
			}
			break
		}
		r := a.Pipeline.RunAttempt(ctx)
		if r.Granted() {
			granted++
		} else {
			denied++
		}
		if ctx.Err() != nil {
			break
		}
	}

	logger.Info("shutting down kiosk", zap.Int("granted", granted), zap.Int("denied", denied))
	s.GracefulStop()
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
