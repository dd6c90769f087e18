// Package health reports kiosk readiness over the standard gRPC health protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name for the gate.
const ServiceName = "pol.Gate"

const checkTimeout = 3 * time.Second

// Pinger checks database connectivity (satisfied by *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the decision policy compiles and evaluates.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker aggregates dependency checks into a grpc health server. Nil dependencies are skipped.
type Checker struct {
	db     Pinger
	policy PolicyChecker
	server *grpchealth.Server
	logger *zap.Logger
}

// NewChecker returns a Checker whose server starts NOT_SERVING until the first Refresh.
func NewChecker(db Pinger, policy PolicyChecker, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := grpchealth.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Checker{db: db, policy: policy, server: srv, logger: logger}
}

// Server is the health service to register on a grpc.Server.
func (c *Checker) Server() *grpchealth.Server { return c.server }

// Check runs every dependency check and joins the failures.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	var errs []error
	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("decision policy: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Refresh runs Check and publishes the resulting status.
func (c *Checker) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := c.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		c.logger.Warn("health check failed", zap.Error(err))
	}
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
	return status
}

// Run refreshes every interval until ctx is done, then marks the server as shutting down.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	c.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.server.Shutdown()
			return
		case <-t.C:
			c.Refresh(ctx)
		}
	}
}
