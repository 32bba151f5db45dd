package api

import (
	"context"
	"net"
	"testing"
	"time"

	"possync/internal/config"
	"possync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func startGRPC(t *testing.T, cfg *config.APIConfig) (*GRPCServer, healthpb.HealthClient) {
	t.Helper()
	srv, err := NewGRPCServer(cfg, nil)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	conn, err := grpc.NewClient("127.0.0.1:"+port, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func TestGRPCHealthTracksSchedule(t *testing.T) {
	cfg := &config.APIConfig{GRPC: config.APIGRPCConfig{Enabled: true, Port: 0, Reflection: true}}
	srv, client := startGRPC(t, cfg)
	ctx := context.Background()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: SyncHealthService})
		require.NoError(t, err)
		return resp.Status
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	updates := make(chan models.SyncStatus)
	trackCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		srv.TrackSync(trackCtx, updates)
		close(done)
	}()

	updates <- models.SyncStatus{State: models.ScheduleBackoff}
	assert.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_SERVING }, time.Second, 10*time.Millisecond)

	updates <- models.SyncStatus{State: models.ScheduleIdle}
	assert.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_NOT_SERVING }, time.Second, 10*time.Millisecond)

	stop()
	<-done
}

func TestGRPCHealthRequiresKey(t *testing.T) {
	cfg := authConfig()
	cfg.GRPC = config.APIGRPCConfig{Enabled: true}
	_, client := startGRPC(t, &cfg)

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "reader-key")
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestServingStatus(t *testing.T) {
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(models.ScheduleIdle))
	for _, st := range []models.ScheduleState{models.ScheduleScheduled, models.ScheduleRunning, models.ScheduleBackoff} {
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(st))
	}
}
