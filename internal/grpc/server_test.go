package grpc

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestServiceAuthInterceptor(t *testing.T) {
	if _, err := NewServiceAuthUnaryInterceptor(""); err == nil {
		t.Fatalf("expected error for empty token")
	}
	interceptor, err := NewServiceAuthUnaryInterceptor("secret")
	if err != nil {
		t.Fatalf("interceptor error: %v", err)
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	cases := []struct {
		name string
		ctx  context.Context
		code codes.Code
	}{
		{"missing", context.Background(), codes.Unauthenticated},
		{"wrong", metadata.NewIncomingContext(context.Background(), metadata.Pairs(serviceTokenHeader, "nope")), codes.PermissionDenied},
		{"valid", metadata.NewIncomingContext(context.Background(), metadata.Pairs(serviceTokenHeader, " secret ")), codes.OK},
	}
	for _, tc := range cases {
		resp, err := interceptor(tc.ctx, nil, info, handler)
		if got := status.Code(err); got != tc.code {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.code, got)
		}
		if tc.code == codes.OK && resp != "ok" {
			t.Fatalf("%s: handler not called", tc.name)
		}
	}
}

func TestHealthFlipsOnShutdown(t *testing.T) {
	srv, err := NewServer("secret", nil)
	if err != nil {
		t.Fatalf("server error: %v", err)
	}
	ctx := context.Background()
	resp, err := srv.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}

	srv.Shutdown()
	resp, err = srv.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.GetStatus())
	}
}
