// mint issues N proof tokens with the configured issuer and checks that they are all distinct.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"proof-of-life-gate/internal/app"
	"proof-of-life-gate/internal/config"
	"proof-of-life-gate/internal/logging"
	"proof-of-life-gate/internal/token"
)

func main() {
	n := flag.Int("n", 5, "number of tokens to mint")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.Must(cfg.LogFormat, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	issuer, err := app.NewIssuer(cfg, logger)
	if err != nil {
		logger.Fatal("issuer", zap.Error(err))
	}

	fmt.Printf("--- GENERATING %d UNIQUE KEYS (%s) ---\n", *n, cfg.TokenIssuer)
	seen := make(map[string]int, *n)
	duplicates := 0
	for i := 1; i <= *n; i++ {
		tok, err := issuer.Mint(context.Background(), token.Payload{
			AttemptID: fmt.Sprintf("mint-%d", i),
			Narrative: fmt.Sprintf("Test Run #%d", i),
			IssuedAt:  time.Now(),
		})
		if err != nil {
			logger.Fatal("mint", zap.Int("run", i), zap.Error(err))
		}
		fmt.Printf("Key #%d: %s\n", i, tok)
		if prev, ok := seen[tok]; ok {
			duplicates++
			fmt.Printf("  duplicate of key #%d\n", prev)
		}
		seen[tok] = i
	}

	if duplicates > 0 {
		fmt.Printf("\n[TEST FAILED] %d duplicate keys.\n", duplicates)
		os.Exit(1)
	}
	fmt.Println("\n[TEST PASSED] All keys are unique.")
}
