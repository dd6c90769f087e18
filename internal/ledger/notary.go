// Package ledger issues proof tokens shaped like ledger transaction hashes.
// No network is involved; the "transaction" is simulated locally.
package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"proof-of-life-gate/internal/token"
)

const (
	minNonce = 100000
	maxNonce = 999999

	minBlock = 4000000
	maxBlock = 5000000

	// DefaultConfirmDelay simulates block confirmation latency.
	DefaultConfirmDelay = time.Second
)

// Receipt describes a simulated transaction.
type Receipt struct {
	TxHash string
	Nonce  int
	Block  int
}

// Notary mints "0x"-prefixed Keccak-256 transaction hashes.
type Notary struct {
	confirmDelay time.Duration
	logger       *zap.Logger
	now          func() time.Time
	intn         func(int) int
}

// NewNotary returns a Notary. A negative delay is treated as zero.
func NewNotary(confirmDelay time.Duration, logger *zap.Logger) *Notary {
	if confirmDelay < 0 {
		confirmDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notary{confirmDelay: confirmDelay, logger: logger, now: time.Now, intn: rand.IntN}
}

// Mint implements token.Issuer.
func (n *Notary) Mint(ctx context.Context, p token.Payload) (string, error) {
	r, err := n.Submit(ctx, p.Narrative)
	if err != nil {
		return "", err
	}
	return r.TxHash, nil
}

// Submit records narrative as a simulated transaction and waits for confirmation.
func (n *Notary) Submit(ctx context.Context, narrative string) (Receipt, error) {
	n.logger.Info("initiating transaction", zap.String("narrative", narrative))
	nonce := minNonce + n.intn(maxNonce-minNonce+1)
	data := fmt.Sprintf("%d-%d-%s", n.now().UnixNano(), nonce, narrative)
	r := Receipt{TxHash: TxHash([]byte(data)), Nonce: nonce}

	if n.confirmDelay > 0 {
		t := time.NewTimer(n.confirmDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("%w: %v", token.ErrIssuerUnavailable, ctx.Err())
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", token.ErrIssuerUnavailable, err)
	}

	r.Block = minBlock + n.intn(maxBlock-minBlock+1)
	n.logger.Info("block confirmed", zap.Int("block", r.Block), zap.String("tx_hash", r.TxHash))
	return r, nil
}

// TxHash is "0x" followed by the hex Keccak-256 of data.
func TxHash(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
