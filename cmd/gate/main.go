// gate runs a single proof-of-life attempt at the local camera and prints the result.
// Exit status is 0 when access is granted, 3 when denied, 1 on setup failure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"proof-of-life-gate/internal/app"
	"proof-of-life-gate/internal/config"
	"proof-of-life-gate/internal/logging"
	"proof-of-life-gate/internal/pipeline"
	"proof-of-life-gate/internal/telemetry"
)

const exitDenied = 3

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	logger := logging.Must(cfg.LogFormat, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	presenter := pipeline.WriterPresenter(os.Stdout)
	a, err := app.Build(ctx, cfg, logger, "gate", presenter)
	if err != nil {
		logger.Error("setup failed", zap.Error(err))
		return 1
	}
	defer func() {
		// Let async telemetry emits finish before providers shut down.
		time.Sleep(telemetry.ShutdownDrainDuration)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	for _, line := range pipeline.Banner() {
		presenter.Show(line)
	}
	r := a.Pipeline.RunAttempt(ctx)

	fmt.Println()
	fmt.Printf("Attempt:    %s\n", r.AttemptID)
	fmt.Printf("Decision:   %s\n", r.Decision)
	if r.DenialReason != "" {
		fmt.Printf("Reason:     %s\n", r.DenialReason)
	}
	if r.Label != "" {
		fmt.Printf("Face:       %s (%.2f)\n", r.Label, r.Confidence)
	}
	if r.EmotionObserved != "" {
		fmt.Printf("Emotion:    %s (match: %t)\n", r.EmotionObserved, r.EmotionMatch)
	}
	if r.ProofToken != "" {
		fmt.Printf("Token:      %s\n", r.ProofToken)
	}
	if !r.Granted() {
		return exitDenied
	}
	return 0
}
