package main

import (
	"context"
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/areascan/internal/camera"
	"github.com/banshee-data/areascan/internal/camera/pcie"
	"github.com/banshee-data/areascan/internal/capture"
	"github.com/banshee-data/areascan/internal/config"
	"github.com/banshee-data/areascan/internal/db"
)

func ptr[T any](v T) *T { return &v }

// testConfig is a fast simulated setup with no servers.
func testConfig(t *testing.T) *config.CameraConfig {
	t.Helper()
	return &config.CameraConfig{
		Backend:      ptr(config.BackendSimulated),
		SimWidth:     ptr(32),
		SimHeight:    ptr(32),
		SimFrameRate: ptr(500.0),
		RingCapacity: ptr(64),
		Listen:       ptr(""),
	}
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, config.BackendSimulated, *backendName)
	assert.Equal(t, camera.DefaultRingCapacity, *ringCapacity)
	assert.Zero(t, *frames)
	assert.False(t, *syncGrab)
	assert.Empty(t, *journalPath)
}

func TestApplyFlags(t *testing.T) {
	old := struct {
		backend string
		frames  int
		sync    bool
		dur     time.Duration
	}{*backendName, *frames, *syncGrab, *duration}
	t.Cleanup(func() {
		*backendName, *frames, *syncGrab, *duration = old.backend, old.frames, old.sync, old.dur
	})

	fs := flag.NewFlagSet("areascan", flag.ContinueOnError)
	fs.StringVar(backendName, "backend", config.BackendSimulated, "")
	fs.IntVar(frames, "frames", 0, "")
	fs.BoolVar(syncGrab, "sync", false, "")
	fs.DurationVar(duration, "duration", 0, "")
	fs.StringVar(journalPath, "journal", "", "")
	require.NoError(t, fs.Parse([]string{"-backend=grabber", "-frames=12", "-sync", "-duration=3s"}))

	cfg := &config.CameraConfig{JournalPath: ptr("from-file.db"), Frames: ptr(1)}
	applyFlags(cfg, fs)

	assert.Equal(t, config.BackendGrabber, cfg.GetBackend())
	assert.Equal(t, 12, cfg.GetFrames())
	assert.False(t, cfg.GetAsync())
	assert.Equal(t, 3*time.Second, cfg.GetDuration())
	assert.Equal(t, "from-file.db", cfg.GetJournalPath(), "unset flags keep config values")
}

func TestRun_SimulatedWithJournalAndCapture(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Frames = ptr(10)
	cfg.JournalPath = ptr(filepath.Join(dir, "journal.db"))
	cfg.CapturePath = ptr(filepath.Join(dir, "frames.pcap"))
	cfg.SerialPort = ptr(config.SerialMock)
	cfg.InitCommands = []string{"set gain 2", "get model"}
	cfg.Properties = map[string]any{camera.PropExposureTime: 0.002}
	require.NoError(t, cfg.Validate())

	res, err := run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.Consumed)
	assert.GreaterOrEqual(t, res.Stats.Delivered, uint64(10))
	assert.NotEmpty(t, res.Stats.Intervals)

	journal, err := db.NewDB(*cfg.JournalPath)
	require.NoError(t, err)
	defer journal.Close()

	s, err := journal.Session(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, config.BackendSimulated, s.Backend)
	assert.True(t, s.Async)
	assert.False(t, s.StoppedAt.IsZero())
	assert.Equal(t, res.Stats.Delivered, s.Delivered)

	props, err := journal.PropertySnapshot(res.Session.ID)
	require.NoError(t, err)
	var exposure string
	for _, p := range props {
		if p.Name == camera.PropExposureTime {
			exposure = string(p.Value)
		}
	}
	assert.Equal(t, "0.002", exposure)

	lines, err := journal.SerialLines(10)
	require.NoError(t, err)
	var got []string
	for _, l := range lines {
		got = append(got, l.Line)
	}
	assert.Equal(t, []string{"OK", "model=SIM-CL-2048"}, got)

	replay, err := capture.Open(*cfg.CapturePath)
	require.NoError(t, err)
	defer replay.Close()
	var n uint64
	for {
		if _, err := replay.Next(); err != nil {
			break
		}
		n++
	}
	assert.Equal(t, res.Stats.Delivered, n, "every delivered frame is captured")
}

func TestRun_GrabberSync(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = ptr(config.BackendGrabber)
	cfg.Async = ptr(false)
	cfg.Frames = ptr(3)
	cfg.SerialPort = ptr(config.SerialMock)
	cfg.Properties = map[string]any{camera.PropROIWidth: 64, camera.PropROIHeight: 64}

	res, err := run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Consumed)
	assert.Equal(t, 64*64, res.Session.FrameSize)
	assert.Zero(t, res.Gaps.Missing)
}

func TestRun_PCIeReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "replay.pcap")
	rec, err := capture.Create(path)
	require.NoError(t, err)
	for seq := uint64(0); seq < 2; seq++ {
		require.NoError(t, rec.WriteFrame(camera.Frame{Seq: seq, Timestamp: time.Now(), Data: make([]byte, pcie.FrameSize)}))
	}
	require.NoError(t, rec.Close())

	cfg := testConfig(t)
	cfg.Backend = ptr(config.BackendPCIe)
	cfg.ReplayPath = ptr(path)
	cfg.FrameInterval = ptr("1ms")
	cfg.Async = ptr(false)
	cfg.Frames = ptr(2)

	res, err := run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Consumed)

	cfg.Frames = ptr(3)
	_, err = run(context.Background(), cfg)
	assert.ErrorIs(t, err, camera.ErrDataUnavailable, "replay runs out after two frames")

	cfg.ReplayLoop = ptr(true)
	res, err = run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Consumed)
}

func TestRun_StopsOnDuration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = ptr("50ms")
	res, err := run(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotZero(t, res.Consumed)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := run(ctx, testConfig(t))
	require.NoError(t, err)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()

	cfg := testConfig(t)
	cfg.JournalPath = ptr(filepath.Join(dir, "missing", "journal.db"))
	_, err := run(context.Background(), cfg)
	assert.ErrorContains(t, err, "journal")

	cfg = testConfig(t)
	cfg.SerialPort = ptr(filepath.Join(dir, "ttyNOPE"))
	_, err = run(context.Background(), cfg)
	assert.ErrorContains(t, err, "control port")

	cfg = testConfig(t)
	cfg.Backend = ptr(config.BackendPCIe)
	cfg.ReplayPath = ptr(filepath.Join(dir, "missing.pcap"))
	_, err = run(context.Background(), cfg)
	assert.ErrorContains(t, err, "replay")

	cfg = testConfig(t)
	cfg.CapturePath = ptr(filepath.Join(dir, "missing", "frames.pcap"))
	_, err = run(context.Background(), cfg)
	assert.ErrorContains(t, err, "capture")
}
