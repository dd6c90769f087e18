// Package server assembles the kiosk's gRPC server.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"proof-of-life-gate/internal/health"
	"proof-of-life-gate/internal/server/interceptors"
	"proof-of-life-gate/internal/telemetry"
)

// healthCheckMethod is logged quietly and sampled for telemetry.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// healthCheckSampleEvery is the number of health probes per telemetry event.
const healthCheckSampleEvery = 60

// Deps holds the services and cross-cutting collaborators of the gRPC server.
type Deps struct {
	// Health backs grpc.health.v1.Health. Required.
	Health *health.Checker
	// Events receives a grpc_request event per RPC. If nil, no events are emitted.
	Events telemetry.EventEmitter
	Logger *zap.Logger
}

// NewServer returns a grpc.Server with OTel stats, logging and telemetry interceptors,
// and every service registered.
func NewServer(deps Deps) *grpc.Server {
	quiet := map[string]bool{healthCheckMethod: true}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(deps.Logger, quiet),
			interceptors.TelemetryUnary(deps.Events, map[string]uint64{healthCheckMethod: healthCheckSampleEvery}, deps.Logger),
		),
	)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given registrar.
//
//   - grpc.health.v1.Health → internal/health
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	healthpb.RegisterHealthServer(s, deps.Health.Server())
}
