// Command areascan acquires frames from an area-scan camera, optionally
// recording them to a pcap file and journalling each session to SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/areascan/internal/camera"
	"github.com/banshee-data/areascan/internal/camera/grabber"
	"github.com/banshee-data/areascan/internal/camera/pcie"
	"github.com/banshee-data/areascan/internal/capture"
	"github.com/banshee-data/areascan/internal/config"
	"github.com/banshee-data/areascan/internal/db"
	"github.com/banshee-data/areascan/internal/monitoring"
	"github.com/banshee-data/areascan/internal/serialmux"
	"github.com/banshee-data/areascan/internal/timeutil"
	"github.com/banshee-data/areascan/internal/version"
)

var (
	configPath   = flag.String("config", "", "Acquisition config JSON file")
	backendName  = flag.String("backend", config.BackendSimulated, "Camera backend: simulated, pcie or grabber")
	listen       = flag.String("listen", "localhost:8080", "Debug HTTP listen address; empty disables")
	healthListen = flag.String("health-listen", "", "gRPC health listen address; empty disables")
	journalPath  = flag.String("journal", "", "SQLite acquisition journal")
	capturePath  = flag.String("capture", "", "Record frames to this pcap file")
	replayPath   = flag.String("replay", "", "Replay frames from this pcap file (pcie backend)")
	serialPort   = flag.String("serial", "", "Camera Link control port, or \"mock\"")
	frames       = flag.Int("frames", 0, "Stop after this many frames; 0 records until interrupted")
	duration     = flag.Duration("duration", 0, "Stop after this long; 0 records until interrupted")
	syncGrab     = flag.Bool("sync", false, "Grab frames synchronously instead of streaming to the ring")
	ringCapacity = flag.Int("ring", camera.DefaultRingCapacity, "Ring buffer capacity in frames")
	plotPath     = flag.String("plot", "", "Write an inter-frame interval histogram (PNG) after the run")
	verbose      = flag.Bool("verbose", false, "Enable diagnostic logging")
	traceFrames  = flag.Bool("trace", false, "Enable per-frame trace logging")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

// applyFlags overrides config values with the flags set on the command line.
func applyFlags(cfg *config.CameraConfig, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = backendName
		case "listen":
			cfg.Listen = listen
		case "health-listen":
			cfg.HealthListen = healthListen
		case "journal":
			cfg.JournalPath = journalPath
		case "capture":
			cfg.CapturePath = capturePath
		case "replay":
			cfg.ReplayPath = replayPath
		case "serial":
			cfg.SerialPort = serialPort
		case "frames":
			cfg.Frames = frames
		case "duration":
			s := duration.String()
			cfg.Duration = &s
		case "sync":
			async := !*syncGrab
			cfg.Async = &async
		case "ring":
			cfg.RingCapacity = ringCapacity
		}
	})
}

// setLogWriters routes every package's ops stream to w and enables the diag
// and trace streams on request.
func setLogWriters(w io.Writer, diag, trace bool) {
	var diagW, traceW io.Writer
	if diag {
		diagW = w
	}
	if trace {
		traceW = w
	}
	camera.SetLogWriters(w, diagW, traceW)
	pcie.SetLogWriters(w, diagW, traceW)
	grabber.SetLogWriters(w, diagW, traceW)
	serialmux.SetLogWriters(w, diagW, traceW)
	capture.SetLogWriters(w, diagW, traceW)
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := config.EmptyCameraConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadCameraConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	applyFlags(cfg, flag.CommandLine)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	setLogWriters(os.Stderr, *verbose, *traceFrames)
	log.Printf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, cfg)
	if err != nil {
		log.Fatalf("acquisition failed: %v", err)
	}
	if *plotPath != "" {
		title := fmt.Sprintf("session %s inter-frame intervals", res.Session.ID)
		if err := writeIntervalPlot(*plotPath, res.Stats.Intervals, title); err != nil {
			log.Printf("failed to write plot: %v", err)
		} else {
			log.Printf("wrote interval histogram to %s", *plotPath)
		}
	}
	log.Printf("Graceful shutdown complete")
}

// run wires the configured camera, control link, journal, capture file and
// servers together and records one session.
func run(ctx context.Context, cfg *config.CameraConfig) (res result, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	var journal *db.DB
	if path := cfg.GetJournalPath(); path != "" {
		if journal, err = db.NewDB(path); err != nil {
			return res, fmt.Errorf("failed to open journal: %w", err)
		}
		defer journal.Close()
	}

	link, err := openLink(cfg)
	if err != nil {
		return res, fmt.Errorf("failed to open control port: %w", err)
	}
	defer link.Close()
	var rec serialmux.LineRecorder
	if journal != nil {
		rec = journal
	}
	linkDone, err := startLink(ctx, link, rec, serialmux.NewState(), cfg.InitCommands)
	defer func() {
		cancel()
		wg.Wait()
		<-linkDone
	}()
	if err != nil {
		return res, err
	}

	backend, source, err := openBackend(cfg, link)
	if err != nil {
		return res, fmt.Errorf("failed to open %s backend: %w", cfg.GetBackend(), err)
	}
	defer source.Close()

	opts := []camera.Option{
		camera.WithRingCapacity(cfg.GetRingCapacity()),
		camera.WithStatsWindow(cfg.GetStatsWindow()),
		camera.WithErrorHandler(func(err error) { log.Printf("acquisition fault: %v", err) }),
	}
	var recorder *capture.Recorder
	if path := cfg.GetCapturePath(); path != "" {
		if recorder, err = capture.Create(path, capture.WithPort(cfg.GetCapturePort())); err != nil {
			backend.Close()
			return res, fmt.Errorf("failed to create capture: %w", err)
		}
		defer recorder.Close()
		opts = append(opts, camera.WithFrameHandler(recorder.Handle))
	}

	cam, err := camera.New(backend, opts...)
	if err != nil {
		return res, err
	}
	defer cam.Close()

	if len(cfg.Properties) > 0 {
		// Property failures are reported but do not stop acquisition.
		if err := cam.Registry().Apply(cfg.Properties); err != nil {
			log.Printf("failed to apply properties: %v", err)
		}
	}

	acq := &acquisition{
		cam:     cam,
		backend: cfg.GetBackend(),
		journal: journal,
		clock:   timeutil.RealClock{},
		poll:    defaultPollInterval,
	}
	if recorder != nil {
		acq.onFrame = recorder.Handle
	}

	if addr := cfg.GetHealthListen(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return res, fmt.Errorf("failed to listen for health checks: %w", err)
		}
		hr := newHealthReporter()
		acq.onState = hr.observe
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hr.serve(ctx, lis); err != nil {
				log.Printf("gRPC health server error: %v", err)
			}
		}()
	}

	if addr := cfg.GetListen(); addr != "" {
		mux := http.NewServeMux()
		cam.AttachAdminRoutes(mux)
		link.AttachAdminRoutes(mux)
		if journal != nil {
			journal.AttachAdminRoutes(mux)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, addr, mux)
		}()
	}

	return acq.run(ctx, cfg.GetAsync(), cfg.GetFrames(), cfg.GetDuration())
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{
		Addr:     addr,
		Handler:  h,
		ErrorLog: log.New(monitoring.Writer("[http] "), "", 0),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
}
