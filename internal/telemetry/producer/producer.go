// Package producer publishes telemetry events to a message broker.
package producer

import (
	"context"

	"proof-of-life-gate/internal/telemetry/domain"
)

// Producer emits telemetry events. It satisfies telemetry.EventEmitter, so a producer can be
// combined with other emitters through telemetry.Fanout.
type Producer interface {
	Emit(ctx context.Context, event *domain.Event) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}
