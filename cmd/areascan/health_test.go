package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/testing/protocmp"

	"github.com/banshee-data/areascan/internal/camera"
)

func TestHealthReporter(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hr := newHealthReporter()
	done := make(chan error, 1)
	go func() { done <- hr.serve(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rcancel()
		resp, err := client.Check(rctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
	resp, err := client.Check(rctx, &healthpb.HealthCheckRequest{})
	rcancel()
	require.NoError(t, err)
	want := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
	if diff := cmp.Diff(want, resp, protocmp.Transform()); diff != "" {
		t.Errorf("overall health mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(cameraService))

	hr.observe(camera.StateRecording)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(cameraService))
	hr.observe(camera.StateReadout)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(cameraService))
	hr.observe(camera.StateIdle)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(cameraService))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("health server did not stop")
	}
}
