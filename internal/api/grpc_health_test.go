package api

import (
	"context"
	"net"
	"testing"
	"time"

	"drivingschool/server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthServerReflectsStore(t *testing.T) {
	ctx := context.Background()

	hs := NewHealthServer(failingPinger{}, time.Minute)
	resp, err := hs.health.Check(ctx, &healthpb.HealthCheckRequest{Service: InvoiceServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, hs.Check(ctx))

	hs = NewHealthServer(store.NewMemoryStore(), time.Minute)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hs.Check(ctx))
	resp, err = hs.health.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestHealthServerOverGRPC(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := NewHealthServer(store.NewMemoryStore(), 50*time.Millisecond)
	hs.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hs.Run(ctx)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	assert.Eventually(t, func() bool {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: InvoiceServiceName})
		return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 20*time.Millisecond)
}
