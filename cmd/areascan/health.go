package main

import (
	"context"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/areascan/internal/camera"
)

// cameraService is the health service name that follows acquisition state.
// The empty service reports the process itself.
const cameraService = "areascan.Camera"

// healthReporter publishes camera state through the gRPC health protocol:
// SERVING while frames are being acquired, NOT_SERVING otherwise.
type healthReporter struct {
	srv *health.Server
}

func newHealthReporter() *healthReporter {
	h := &healthReporter{srv: health.NewServer()}
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.srv.SetServingStatus(cameraService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *healthReporter) observe(st camera.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st == camera.StateRecording || st == camera.StateReadout {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(cameraService, status)
}

// serve runs a gRPC server with the health service on lis until ctx is done.
func (h *healthReporter) serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, h.srv)

	errc := make(chan error, 1)
	go func() { errc <- gs.Serve(lis) }()
	log.Printf("gRPC health listening on %s", lis.Addr())

	select {
	case <-ctx.Done():
		h.srv.Shutdown()
		gs.GracefulStop()
		return nil
	case err := <-errc:
		return err
	}
}
