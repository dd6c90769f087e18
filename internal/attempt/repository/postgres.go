package repository

import (
	"context"
	"database/sql"
	"errors"

	"proof-of-life-gate/internal/attempt/domain"
)

const attemptColumns = `id, decision, denial_reason, label, confidence, target_color, target_emotion,
	observed_emotion, fallback, proof_token_hash, narrative, created_at`

const (
	createAttempt = `INSERT INTO attempts (` + attemptColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	getAttempt             = `SELECT ` + attemptColumns + ` FROM attempts WHERE id = $1`
	getAttemptByProofToken = `SELECT ` + attemptColumns + ` FROM attempts WHERE proof_token_hash = $1`
	listRecentAttempts     = `SELECT ` + attemptColumns + ` FROM attempts ORDER BY created_at DESC LIMIT $1`
	defaultListRecentLimit = 20
)

// PostgresRepository stores attempts in the attempts table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an attempt repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a. The attempt must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Attempt) error {
	_, err := r.db.ExecContext(ctx, createAttempt,
		a.ID, a.Decision, nullString(a.DenialReason), nullString(a.Label), a.Confidence,
		a.TargetColor, a.TargetEmotion, nullString(a.ObservedEmotion), a.Fallback,
		nullString(a.ProofTokenHash), nullString(a.Narrative), a.CreatedAt,
	)
	return err
}

// GetByID returns the attempt for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Attempt, error) {
	return r.getOne(ctx, getAttempt, id)
}

// GetByProofTokenHash returns the attempt that issued the token with the given hash, or nil.
func (r *PostgresRepository) GetByProofTokenHash(ctx context.Context, hash string) (*domain.Attempt, error) {
	if hash == "" {
		return nil, nil
	}
	return r.getOne(ctx, getAttemptByProofToken, hash)
}

// ListRecent returns the newest attempts first. A non-positive limit uses the default of 20.
func (r *PostgresRepository) ListRecent(ctx context.Context, limit int32) ([]*domain.Attempt, error) {
	if limit <= 0 {
		limit = defaultListRecentLimit
	}
	rows, err := r.db.QueryContext(ctx, listRecentAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) getOne(ctx context.Context, query, arg string) (*domain.Attempt, error) {
	a, err := scanAttempt(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(s scanner) (*domain.Attempt, error) {
	var (
		a                                             domain.Attempt
		reason, label, observed, tokenHash, narrative sql.NullString
	)
	if err := s.Scan(&a.ID, &a.Decision, &reason, &label, &a.Confidence, &a.TargetColor, &a.TargetEmotion,
		&observed, &a.Fallback, &tokenHash, &narrative, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.DenialReason = reason.String
	a.Label = label.String
	a.ObservedEmotion = observed.String
	a.ProofTokenHash = tokenHash.String
	a.Narrative = narrative.String
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
