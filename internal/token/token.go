// Package token defines the proof token issued for a granted attempt.
package token

import (
	"context"
	"errors"
	"time"
)

// ErrIssuerUnavailable is returned when no token could be minted.
var ErrIssuerUnavailable = errors.New("token: issuer unavailable")

// Payload is what a proof token attests to.
type Payload struct {
	AttemptID  string
	Color      string
	Emotion    string
	Label      string
	Confidence float64
	Narrative  string
	IssuedAt   time.Time
}

// Issuer mints an opaque proof token for a granted attempt.
type Issuer interface {
	Mint(ctx context.Context, p Payload) (string, error)
}

// Kind selects an Issuer implementation.
type Kind string

const (
	KindLedger Kind = "ledger"
	KindJWT    Kind = "jwt"
)

// ParseKind validates an issuer name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLedger, KindJWT:
		return Kind(s), nil
	}
	return "", errors.New("token: issuer must be ledger or jwt")
}
