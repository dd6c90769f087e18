// attempts lists recorded proof-of-life attempts, or looks up the attempt behind a proof token.
//
//	attempts -limit 20
//	attempts -verify <token>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	attemptrepo "proof-of-life-gate/internal/attempt/repository"
	"proof-of-life-gate/internal/config"
	"proof-of-life-gate/internal/db"
	"proof-of-life-gate/internal/logging"
	"proof-of-life-gate/internal/security"
)

func main() {
	limit := flag.Int("limit", 20, "number of recent attempts to list")
	verify := flag.String("verify", "", "proof token to look up")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.Must(cfg.LogFormat, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.OpenContext(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer conn.Close()
	repo := attemptrepo.NewPostgresRepository(conn)

	if *verify != "" {
		os.Exit(verifyToken(ctx, cfg, repo, *verify, logger))
	}

	list, err := repo.ListRecent(ctx, int32(*limit))
	if err != nil {
		logger.Fatal("list attempts", zap.Error(err))
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tID\tDECISION\tREASON\tLABEL\tCONF\tCOLOR\tEMOTION\tOBSERVED\tTOKEN")
	for _, a := range list {
		tok := "-"
		if a.ProofTokenHash != "" {
			tok = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t%s\t%s\t%s\n",
			a.CreatedAt.Local().Format(time.DateTime), a.ID, a.Decision, dash(a.DenialReason), dash(a.Label),
			a.Confidence, a.TargetColor, a.TargetEmotion, dash(a.ObservedEmotion), tok)
	}
	_ = w.Flush()
}

func verifyToken(ctx context.Context, cfg *config.Config, repo attemptrepo.Repository, tok string, logger *zap.Logger) int {
	a, err := repo.GetByProofTokenHash(ctx, security.HashProofToken(tok))
	if err != nil {
		logger.Error("lookup", zap.Error(err))
		return 1
	}
	if a == nil || !a.Granted() || !security.ProofTokenMatches(tok, a.ProofTokenHash) {
		fmt.Println("UNKNOWN: no granted attempt issued this token")
		return 2
	}
	if cfg.TokenIssuer == "jwt" {
		signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			logger.Error("proof token keys", zap.Error(err))
			return 1
		}
		p := security.NewProofTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.TokenTTL())
		if _, err := p.Validate(tok); err != nil {
			fmt.Printf("INVALID: attempt %s found but token does not validate: %v\n", a.ID, err)
			return 2
		}
	}
	fmt.Printf("VALID: attempt %s granted at %s (%s/%s, face %s %.2f)\n",
		a.ID, a.CreatedAt.Local().Format(time.DateTime), a.TargetColor, a.ObservedEmotion, a.Label, a.Confidence)
	if a.Narrative != "" {
		fmt.Println(a.Narrative)
	}
	return 0
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
