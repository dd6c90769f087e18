// Package attempt keeps the ledger of verification attempts.
package attempt

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"proof-of-life-gate/internal/attempt/domain"
	"proof-of-life-gate/internal/attempt/repository"
)

// Recorder persists finished attempts. Record is best-effort: failures are logged
// and never affect the caller's result.
type Recorder interface {
	Record(ctx context.Context, a *domain.Attempt)
}

// LedgerRecorder implements Recorder on top of a repository.
type LedgerRecorder struct {
	repo   repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder returns a Recorder writing to repo. A nil repo makes Record a no-op.
func NewRecorder(repo repository.Repository, logger *zap.Logger) *LedgerRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerRecorder{repo: repo, logger: logger, now: time.Now}
}

// Record fills in a missing ID or timestamp and writes a.
func (r *LedgerRecorder) Record(ctx context.Context, a *domain.Attempt) {
	if r == nil || r.repo == nil || a == nil {
		return
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now().UTC()
	}
	if err := r.repo.Create(ctx, a); err != nil {
		r.logger.Warn("attempt: failed to record",
			zap.String("attempt_id", a.ID),
			zap.String("decision", a.Decision),
			zap.Error(err))
	}
}
