package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/banshee-data/areascan/internal/camera"
	"github.com/banshee-data/areascan/internal/camera/grabber"
	"github.com/banshee-data/areascan/internal/camera/pcie"
	"github.com/banshee-data/areascan/internal/camera/simulated"
	"github.com/banshee-data/areascan/internal/capture"
	"github.com/banshee-data/areascan/internal/config"
	"github.com/banshee-data/areascan/internal/serialmux"
)

// openLink opens the Camera Link control port named in the config. An empty
// port gives a disabled link.
func openLink(cfg *config.CameraConfig) (serialmux.SerialMuxInterface, error) {
	switch path := cfg.GetSerialPort(); path {
	case "":
		return serialmux.NewDisabledSerialMux(), nil
	case config.SerialMock:
		return serialmux.NewMockSerialMux(), nil
	default:
		mux, err := serialmux.NewRealSerialMux(path, cfg.GetSerialOptions())
		if err != nil {
			return nil, err
		}
		return mux, nil
	}
}

// linkEnabled reports whether commands sent on link reach a camera.
func linkEnabled(link serialmux.SerialMuxInterface) bool {
	_, disabled := link.(*serialmux.DisabledSerialMux)
	return !disabled
}

// openBackend builds the configured backend. The returned closer releases
// anything the backend reads from and must run after the camera is closed.
func openBackend(cfg *config.CameraConfig, link serialmux.SerialMuxInterface) (camera.Backend, io.Closer, error) {
	switch cfg.GetBackend() {
	case config.BackendSimulated:
		w, h := cfg.GetSimSize()
		b, err := simulated.New(
			simulated.WithSize(w, h),
			simulated.WithFrameRate(float32(cfg.GetSimFrameRate())),
		)
		return b, nopCloser{}, err

	case config.BackendPCIe:
		opts := []pcie.SimOption{pcie.WithFrameInterval(cfg.GetFrameInterval())}
		var closer io.Closer = nopCloser{}
		if path := cfg.GetReplayPath(); path != "" {
			copts := []capture.Option{capture.WithPort(cfg.GetCapturePort())}
			if cfg.GetReplayLoop() {
				copts = append(copts, capture.WithLoop())
			}
			replay, err := capture.Open(path, copts...)
			if err != nil {
				return nil, nil, fmt.Errorf("open replay: %w", err)
			}
			opts = append(opts, pcie.WithFrameSource(replay))
			closer = replay
		}
		dev := pcie.NewSimDevice(opts...)
		b, err := pcie.Open(cfg.GetDevicePath(), dev.Opener())
		if err != nil {
			return nil, nil, errors.Join(err, closer.Close())
		}
		return b, closer, nil

	case config.BackendGrabber:
		port := grabber.PortA
		if cfg.GetPort() == "B" {
			port = grabber.PortB
		}
		opts := []grabber.Option{
			grabber.WithPort(port),
			grabber.WithTimeout(cfg.GetGrabTimeout()),
		}
		if linkEnabled(link) {
			opts = append(opts, grabber.WithControlLink(link))
		}
		b, err := grabber.Open(grabber.SimDriver(nil), cfg.GetApplet(), cfg.GetBoard(), opts...)
		return b, nopCloser{}, err
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.GetBackend())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// startLink runs the control port monitor, journals its traffic and sends
// the configured init commands.
func startLink(ctx context.Context, link serialmux.SerialMuxInterface, rec serialmux.LineRecorder, state *serialmux.State, init []string) (done <-chan struct{}, err error) {
	ch := make(chan struct{})
	id, lines := link.Subscribe()
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		serialmux.Consume(rec, state, lines)
	}()
	go func() {
		defer close(ch)
		if err := link.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor control port: %v", err)
		}
		link.Unsubscribe(id)
		<-consumed
	}()
	if err := link.Initialize(init); err != nil {
		return ch, fmt.Errorf("failed to initialize camera: %w", err)
	}
	return ch, nil
}
