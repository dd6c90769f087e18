package security

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"proof-of-life-gate/internal/token"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// ProofClaims are the JWT claims of a proof-of-life token. Subject is the attempt ID.
type ProofClaims struct {
	jwt.RegisteredClaims
	Color      string  `json:"color"`
	Emotion    string  `json:"emotion"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Narrative  string  `json:"narrative,omitempty"`
}

// ProofTokenProvider mints and validates proof tokens signed with RS256 or ES256.
type ProofTokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

// NewProofTokenProvider returns a provider signing with privateKey. A zero ttl issues tokens without expiry.
func NewProofTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, ttl time.Duration) *ProofTokenProvider {
	if publicKey == nil && privateKey != nil {
		publicKey = privateKey.Public()
	}
	return &ProofTokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Mint implements token.Issuer.
func (p *ProofTokenProvider) Mint(ctx context.Context, payload token.Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.privateKey == nil {
		return "", fmt.Errorf("%w: no signing key", token.ErrIssuerUnavailable)
	}
	jti, err := generateJTI()
	if err != nil {
		return "", err
	}
	issued := payload.IssuedAt
	if issued.IsZero() {
		issued = p.now()
	}
	issued = issued.UTC()
	claims := ProofClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       jti,
			Subject:  payload.AttemptID,
			Issuer:   p.issuer,
			Audience: jwt.ClaimStrings{p.audience},
			IssuedAt: jwt.NewNumericDate(issued),
		},
		Color:      payload.Color,
		Emotion:    payload.Emotion,
		Label:      payload.Label,
		Confidence: payload.Confidence,
		Narrative:  payload.Narrative,
	}
	if p.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(issued.Add(p.ttl))
	}
	return p.sign(claims)
}

func (p *ProofTokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidKey
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

// Validate parses tokenString and checks signature, expiry, issuer and audience.
func (p *ProofTokenProvider) Validate(tokenString string) (*ProofClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &ProofClaims{}, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*ProofClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != p.issuer || !slices.Contains(claims.Audience, p.audience) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
