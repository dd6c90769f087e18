package server

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"proof-of-life-gate/internal/health"
	"proof-of-life-gate/internal/server/interceptors"
	"proof-of-life-gate/internal/telemetry/domain"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl any) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, Deps{Health: health.NewChecker(nil, nil, nil)})
	if len(reg.services) != 1 || reg.services[0] != "grpc.health.v1.Health" {
		t.Errorf("services = %v, want [grpc.health.v1.Health]", reg.services)
	}
}

type chanEmitter chan *domain.Event

func (c chanEmitter) Emit(ctx context.Context, e *domain.Event) error {
	c <- e
	return nil
}

func TestNewServer_ServesHealth(t *testing.T) {
	checker := health.NewChecker(nil, nil, nil)
	checker.Refresh(context.Background())
	events := make(chanEmitter, 4)
	s := NewServer(Deps{Health: checker, Events: events})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: health.ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}

	// The first probe is always sampled into telemetry.
	select {
	case e := <-events:
		if e.EventType != interceptors.EventGRPCRequest || !strings.Contains(string(e.Metadata), healthCheckMethod) {
			t.Errorf("event = %s %s", e.EventType, e.Metadata)
		}
	case <-time.After(time.Second):
		t.Error("no telemetry event for the first health check")
	}
}
