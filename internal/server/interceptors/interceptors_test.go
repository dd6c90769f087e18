package interceptors

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"proof-of-life-gate/internal/telemetry/domain"
)

func TestClientIP(t *testing.T) {
	md := func(kv map[string]string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.New(kv))
	}
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"x-forwarded-for", md(map[string]string{"x-forwarded-for": "192.168.1.1"}), "192.168.1.1"},
		{"first hop", md(map[string]string{"x-forwarded-for": "192.168.1.1, 10.0.0.1"}), "192.168.1.1"},
		{"x-real-ip", md(map[string]string{"x-real-ip": "192.168.1.2"}), "192.168.1.2"},
		{"precedence", md(map[string]string{"x-forwarded-for": "192.168.1.1", "x-real-ip": "192.168.1.2"}), "192.168.1.1"},
		{"whitespace", md(map[string]string{"x-forwarded-for": "  192.168.1.1  "}), "192.168.1.1"},
		{"peer", peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("192.168.1.3"), Port: 12345}}), "192.168.1.3"},
		{"unknown", context.Background(), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClientIP(tt.ctx); got != tt.want {
				t.Errorf("ip = %q, want %q", got, tt.want)
			}
		})
	}
}

type chanEmitter chan *domain.Event

func (c chanEmitter) Emit(ctx context.Context, e *domain.Event) error {
	c <- e
	return nil
}

func okHandler(ctx context.Context, req any) (any, error) { return "ok", nil }

func TestTelemetryUnary_EmitsEvent(t *testing.T) {
	events := make(chanEmitter, 1)
	icpt := TelemetryUnary(events, nil, nil)
	resp, err := icpt(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/pol.Gate/Status"}, okHandler)
	if err != nil || resp != "ok" {
		t.Fatalf("interceptor = %v, %v", resp, err)
	}
	select {
	case e := <-events:
		if e.EventType != EventGRPCRequest || e.Source != "grpc_interceptor" {
			t.Errorf("event = %+v", e)
		}
		var meta grpcRequestMetadata
		if err := json.Unmarshal(e.Metadata, &meta); err != nil {
			t.Fatalf("metadata: %v", err)
		}
		if meta.FullMethod != "/pol.Gate/Status" || meta.StatusCode != "OK" {
			t.Errorf("metadata = %+v", meta)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}
}

func TestTelemetryUnary_Sampling(t *testing.T) {
	const check = "/grpc.health.v1.Health/Check"
	events := make(chanEmitter, 16)
	icpt := TelemetryUnary(events, map[string]uint64{check: 3, "/x/Never": 0}, nil)
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 5000}})

	for i := 0; i < 7; i++ {
		if _, err := icpt(ctx, nil, &grpc.UnaryServerInfo{FullMethod: check}, okHandler); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = icpt(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/x/Never"}, okHandler)
	_, _ = icpt(ctx, nil, &grpc.UnaryServerInfo{FullMethod: check},
		func(ctx context.Context, req any) (any, error) {
			return nil, status.Error(codes.NotFound, "unknown service")
		})

	// Calls 1, 4 and 7 are sampled; the failed call always emits; /x/Never never does.
	var got []grpcRequestMetadata
	for len(got) < 4 {
		select {
		case e := <-events:
			var meta grpcRequestMetadata
			if err := json.Unmarshal(e.Metadata, &meta); err != nil {
				t.Fatalf("metadata: %v", err)
			}
			got = append(got, meta)
		case <-time.After(time.Second):
			t.Fatalf("got %d events, want 4", len(got))
		}
	}
	select {
	case e := <-events:
		t.Errorf("unexpected extra event %s", e.Metadata)
	case <-time.After(20 * time.Millisecond):
	}
	failed := 0
	for _, meta := range got {
		if meta.FullMethod != check {
			t.Errorf("method = %q, want %q", meta.FullMethod, check)
		}
		if meta.ClientIP != "10.0.0.7" {
			t.Errorf("client ip = %q, want 10.0.0.7", meta.ClientIP)
		}
		if meta.StatusCode == "NotFound" {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed-call events = %d, want 1", failed)
	}
}

func TestTelemetryUnary_NilEmitter(t *testing.T) {
	wantErr := status.Error(codes.Internal, "boom")
	_, err := TelemetryUnary(nil, nil, nil)(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(ctx context.Context, req any) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want handler error passed through", err)
	}
}

func TestLoggingUnary(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	icpt := LoggingUnary(zap.New(core), map[string]bool{"/grpc.health.v1.Health/Check": true})

	_, _ = icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, okHandler)
	_, _ = icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(ctx context.Context, req any) (any, error) { return nil, status.Error(codes.Unavailable, "down") })

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel {
		t.Errorf("health probe level = %v, want debug", entries[0].Level)
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["code"] != "Unavailable" {
		t.Errorf("failed rpc entry = %+v", entries[1])
	}
}
