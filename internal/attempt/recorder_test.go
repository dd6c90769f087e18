package attempt

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"proof-of-life-gate/internal/attempt/domain"
)

type mockAttemptRepo struct {
	entries   []*domain.Attempt
	createErr error
}

func (m *mockAttemptRepo) Create(ctx context.Context, a *domain.Attempt) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, a)
	return nil
}

func (m *mockAttemptRepo) GetByID(ctx context.Context, id string) (*domain.Attempt, error) {
	return nil, nil
}

func (m *mockAttemptRepo) GetByProofTokenHash(ctx context.Context, hash string) (*domain.Attempt, error) {
	return nil, nil
}

func (m *mockAttemptRepo) ListRecent(ctx context.Context, limit int32) ([]*domain.Attempt, error) {
	return nil, nil
}

func TestRecorder_FillsIDAndTimestamp(t *testing.T) {
	repo := &mockAttemptRepo{}
	r := NewRecorder(repo, nil)
	fixed := time.Date(2026, 3, 3, 3, 3, 3, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.Record(context.Background(), &domain.Attempt{Decision: "GRANTED"})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.ID == "" {
		t.Error("entry ID should be set")
	}
	if !entry.CreatedAt.Equal(fixed) {
		t.Errorf("created_at = %v, want %v", entry.CreatedAt, fixed)
	}
}

func TestRecorder_KeepsExistingID(t *testing.T) {
	repo := &mockAttemptRepo{}
	NewRecorder(repo, nil).Record(context.Background(), &domain.Attempt{ID: "a-1", CreatedAt: time.Unix(1, 0)})
	if repo.entries[0].ID != "a-1" || !repo.entries[0].CreatedAt.Equal(time.Unix(1, 0)) {
		t.Errorf("entry = %+v", repo.entries[0])
	}
}

func TestRecorder_RepoErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	repo := &mockAttemptRepo{createErr: errors.New("db down")}
	NewRecorder(repo, zap.New(core)).Record(context.Background(), &domain.Attempt{ID: "a-1", Decision: "DENIED"})

	if logs.Len() != 1 {
		t.Fatalf("expected 1 warning, got %d", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["attempt_id"]; got != "a-1" {
		t.Errorf("attempt_id = %v", got)
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *LedgerRecorder
	r.Record(context.Background(), &domain.Attempt{})
	NewRecorder(nil, nil).Record(context.Background(), &domain.Attempt{})
	NewRecorder(&mockAttemptRepo{}, nil).Record(context.Background(), nil)
}
