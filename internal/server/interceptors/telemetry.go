package interceptors

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"proof-of-life-gate/internal/telemetry"
	"proof-of-life-gate/internal/telemetry/domain"
)

// EventGRPCRequest is the event type emitted per RPC.
const EventGRPCRequest = "grpc_request"

// grpcRequestMetadata is the JSON shape stored in Event.Metadata for grpc_request events.
type grpcRequestMetadata struct {
	FullMethod string `json:"full_method"`
	StatusCode string `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
}

// TelemetryUnary returns a unary server interceptor that emits a telemetry event after each RPC.
// Best-effort: failures are logged and do not fail the RPC. If emitter is nil, the interceptor no-ops.
// sampleEvery thins high-volume methods such as health Check: a method mapped to n emits on its
// 1st, (n+1)th, ... call, and 0 never emits. Failed RPCs always emit.
func TelemetryUnary(emitter telemetry.EventEmitter, sampleEvery map[string]uint64, logger *zap.Logger) grpc.UnaryServerInterceptor {
	calls := make(map[string]*atomic.Uint64, len(sampleEvery))
	for method := range sampleEvery {
		calls[method] = new(atomic.Uint64)
	}
	sampled := func(method string, err error) bool {
		counter, ok := calls[method]
		if !ok || err != nil {
			return true
		}
		n := sampleEvery[method]
		return n > 0 && (counter.Add(1)-1)%n == 0
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if emitter == nil || !sampled(info.FullMethod, err) {
			return resp, err
		}
		meta := grpcRequestMetadata{
			FullMethod: info.FullMethod,
			StatusCode: status.Code(err).String(),
			DurationMs: time.Since(start).Milliseconds(),
			ClientIP:   ClientIP(ctx),
		}
		telemetry.EmitAsync(emitter, domain.NewEvent("", EventGRPCRequest, "grpc_interceptor", meta, time.Now()), logger)
		return resp, err
	}
}
