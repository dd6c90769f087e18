package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary logs each RPC with its status and latency. Health probes log at DEBUG.
func LoggingUnary(logger *zap.Logger, quietMethods map[string]bool) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", ClientIP(ctx)),
		}
		switch {
		case code != codes.OK:
			logger.Warn("rpc failed", append(fields, zap.Error(err))...)
		case quietMethods[info.FullMethod]:
			logger.Debug("rpc", fields...)
		default:
			logger.Info("rpc", fields...)
		}
		return resp, err
	}
}
