package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/areascan/internal/camera"
	"github.com/banshee-data/areascan/internal/camera/pcie"
	"github.com/banshee-data/areascan/internal/capture"
	"github.com/banshee-data/areascan/internal/serialmux"
)

// DefaultConfigPath is the path to the example acquisition config.
const DefaultConfigPath = "config/areascan.defaults.json"

// Backend names accepted in the backend field.
const (
	BackendSimulated = "simulated"
	BackendPCIe      = "pcie"
	BackendGrabber   = "grabber"
)

// SerialMock selects the in-process simulated camera as the control port.
const SerialMock = "mock"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// CameraConfig is the acquisition configuration. Every field is optional;
// the Get* methods supply defaults for fields left out of the JSON.
type CameraConfig struct {
	Backend      *string `json:"backend,omitempty"`
	RingCapacity *int    `json:"ring_capacity,omitempty"`
	StatsWindow  *int    `json:"stats_window,omitempty"`
	Async        *bool   `json:"async,omitempty"`
	Frames       *int    `json:"frames,omitempty"`   // 0 records until stopped
	Duration     *string `json:"duration,omitempty"` // duration string like "10s"

	// Properties are applied through the registry before recording starts.
	Properties map[string]any `json:"properties,omitempty"`

	// Simulated backend
	SimWidth     *int     `json:"sim_width,omitempty"`
	SimHeight    *int     `json:"sim_height,omitempty"`
	SimFrameRate *float64 `json:"sim_frame_rate,omitempty"`

	// PCIe backend
	DevicePath    *string `json:"device_path,omitempty"`
	FrameInterval *string `json:"frame_interval,omitempty"`
	ReplayPath    *string `json:"replay_path,omitempty"`
	ReplayLoop    *bool   `json:"replay_loop,omitempty"`

	// Frame grabber backend
	Applet      *string `json:"applet,omitempty"`
	Board       *int    `json:"board,omitempty"`
	Port        *string `json:"port,omitempty"` // "A" or "B"
	GrabTimeout *string `json:"grab_timeout,omitempty"`

	// Camera Link control port
	SerialPort    *string                `json:"serial_port,omitempty"`
	SerialOptions *serialmux.PortOptions `json:"serial_options,omitempty"`
	InitCommands  []string               `json:"init_commands,omitempty"`

	CapturePath *string `json:"capture_path,omitempty"`
	CapturePort *int    `json:"capture_port,omitempty"`
	JournalPath *string `json:"journal_path,omitempty"`

	Listen       *string `json:"listen,omitempty"`
	HealthListen *string `json:"health_listen,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// EmptyCameraConfig returns a CameraConfig with all fields set to nil.
func EmptyCameraConfig() *CameraConfig {
	return &CameraConfig{}
}

// LoadCameraConfig loads a CameraConfig from a JSON file. The file must have
// a .json extension and be no larger than 1 MiB.
func LoadCameraConfig(path string) (*CameraConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCameraConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *CameraConfig) Validate() error {
	switch b := c.GetBackend(); b {
	case BackendSimulated, BackendPCIe, BackendGrabber:
	default:
		return fmt.Errorf("unknown backend %q: expected %s, %s or %s", b, BackendSimulated, BackendPCIe, BackendGrabber)
	}
	if c.RingCapacity != nil && *c.RingCapacity < 1 {
		return fmt.Errorf("ring_capacity must be at least 1, got %d", *c.RingCapacity)
	}
	if c.StatsWindow != nil && *c.StatsWindow < 1 {
		return fmt.Errorf("stats_window must be at least 1, got %d", *c.StatsWindow)
	}
	if c.Frames != nil && *c.Frames < 0 {
		return fmt.Errorf("frames must be non-negative, got %d", *c.Frames)
	}
	for name, v := range map[string]*string{
		"duration":       c.Duration,
		"frame_interval": c.FrameInterval,
		"grab_timeout":   c.GrabTimeout,
	} {
		if err := validDuration(name, v); err != nil {
			return err
		}
	}

	if c.SimWidth != nil && *c.SimWidth <= 0 {
		return fmt.Errorf("sim_width must be positive, got %d", *c.SimWidth)
	}
	if c.SimHeight != nil && *c.SimHeight <= 0 {
		return fmt.Errorf("sim_height must be positive, got %d", *c.SimHeight)
	}
	if c.SimFrameRate != nil && *c.SimFrameRate <= 0 {
		return fmt.Errorf("sim_frame_rate must be positive, got %f", *c.SimFrameRate)
	}

	if c.Board != nil && *c.Board < 0 {
		return fmt.Errorf("board must be non-negative, got %d", *c.Board)
	}
	if c.Port != nil {
		if p := strings.ToUpper(*c.Port); p != "A" && p != "B" {
			return fmt.Errorf("port must be A or B, got %q", *c.Port)
		}
	}
	if c.ReplayPath != nil && *c.ReplayPath != "" && c.GetBackend() != BackendPCIe {
		return fmt.Errorf("replay_path needs the %s backend", BackendPCIe)
	}

	if c.SerialOptions != nil {
		if _, err := c.SerialOptions.Normalize(); err != nil {
			return fmt.Errorf("serial_options: %w", err)
		}
	}
	if c.CapturePort != nil && (*c.CapturePort < 1 || *c.CapturePort > 65535) {
		return fmt.Errorf("capture_port must be between 1 and 65535, got %d", *c.CapturePort)
	}
	return nil
}

// GetBackend returns the backend name or the default.
func (c *CameraConfig) GetBackend() string {
	if c.Backend == nil || *c.Backend == "" {
		return BackendSimulated
	}
	return strings.ToLower(*c.Backend)
}

// GetRingCapacity returns the ring_capacity value or the default.
func (c *CameraConfig) GetRingCapacity() int {
	if c.RingCapacity == nil {
		return camera.DefaultRingCapacity
	}
	return *c.RingCapacity
}

// GetStatsWindow returns the stats_window value or the default.
func (c *CameraConfig) GetStatsWindow() int {
	if c.StatsWindow == nil {
		return 256
	}
	return *c.StatsWindow
}

// GetAsync returns the async value or the default.
func (c *CameraConfig) GetAsync() bool {
	if c.Async == nil {
		return true
	}
	return *c.Async
}

// GetFrames returns how many frames to acquire; 0 means no limit.
func (c *CameraConfig) GetFrames() int {
	if c.Frames == nil {
		return 0
	}
	return *c.Frames
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetDuration returns how long to record; 0 means no limit.
func (c *CameraConfig) GetDuration() time.Duration {
	return durationOr(c.Duration, 0)
}

// GetSimSize returns the simulated sensor size or the default 640x480.
func (c *CameraConfig) GetSimSize() (width, height int) {
	width, height = 640, 480
	if c.SimWidth != nil {
		width = *c.SimWidth
	}
	if c.SimHeight != nil {
		height = *c.SimHeight
	}
	return width, height
}

// GetSimFrameRate returns the simulated frame rate or the default.
func (c *CameraConfig) GetSimFrameRate() float64 {
	if c.SimFrameRate == nil {
		return 100
	}
	return *c.SimFrameRate
}

// GetDevicePath returns the PCIe device node or the default.
func (c *CameraConfig) GetDevicePath() string {
	if c.DevicePath == nil || *c.DevicePath == "" {
		return pcie.DefaultPath
	}
	return *c.DevicePath
}

// GetFrameInterval returns the simulated PCIe frame interval.
func (c *CameraConfig) GetFrameInterval() time.Duration {
	return durationOr(c.FrameInterval, 10*time.Millisecond)
}

// GetReplayPath returns the pcap file replayed into the PCIe device, if any.
func (c *CameraConfig) GetReplayPath() string {
	if c.ReplayPath == nil {
		return ""
	}
	return *c.ReplayPath
}

// GetReplayLoop returns the replay_loop value or the default.
func (c *CameraConfig) GetReplayLoop() bool {
	if c.ReplayLoop == nil {
		return false
	}
	return *c.ReplayLoop
}

// GetApplet returns the frame grabber applet; empty selects the driver default.
func (c *CameraConfig) GetApplet() string {
	if c.Applet == nil {
		return ""
	}
	return *c.Applet
}

// GetBoard returns the frame grabber board index or the default.
func (c *CameraConfig) GetBoard() int {
	if c.Board == nil {
		return 0
	}
	return *c.Board
}

// GetPort returns the frame grabber port, "A" or "B".
func (c *CameraConfig) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return "A"
	}
	return strings.ToUpper(*c.Port)
}

// GetGrabTimeout returns the frame grabber image timeout or the default.
func (c *CameraConfig) GetGrabTimeout() time.Duration {
	return durationOr(c.GrabTimeout, time.Second)
}

// GetSerialPort returns the control port device, SerialMock, or "" for none.
func (c *CameraConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetSerialOptions returns the normalized control port options.
func (c *CameraConfig) GetSerialOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.SerialOptions != nil {
		opts = *c.SerialOptions
	}
	if n, err := opts.Normalize(); err == nil {
		return n
	}
	return opts
}

// GetCapturePath returns the pcap file frames are recorded to, if any.
func (c *CameraConfig) GetCapturePath() string {
	if c.CapturePath == nil {
		return ""
	}
	return *c.CapturePath
}

// GetCapturePort returns the UDP port used inside capture files.
func (c *CameraConfig) GetCapturePort() uint16 {
	if c.CapturePort == nil {
		return capture.DefaultPort
	}
	return uint16(*c.CapturePort)
}

// GetJournalPath returns the SQLite journal path, if any.
func (c *CameraConfig) GetJournalPath() string {
	if c.JournalPath == nil {
		return ""
	}
	return *c.JournalPath
}

// GetListen returns the debug HTTP listen address or the default.
func (c *CameraConfig) GetListen() string {
	if c.Listen == nil {
		return "localhost:8080"
	}
	return *c.Listen
}

// GetHealthListen returns the gRPC health listen address; empty disables it.
func (c *CameraConfig) GetHealthListen() string {
	if c.HealthListen == nil {
		return ""
	}
	return *c.HealthListen
}

// DefaultCameraConfig returns a config with every field set to its default.
func DefaultCameraConfig() *CameraConfig {
	empty := EmptyCameraConfig()
	w, h := empty.GetSimSize()
	opts := empty.GetSerialOptions()
	return &CameraConfig{
		Backend:       ptrString(empty.GetBackend()),
		RingCapacity:  ptrInt(empty.GetRingCapacity()),
		StatsWindow:   ptrInt(empty.GetStatsWindow()),
		Async:         ptrBool(empty.GetAsync()),
		Frames:        ptrInt(0),
		Duration:      ptrString("0s"),
		SimWidth:      ptrInt(w),
		SimHeight:     ptrInt(h),
		SimFrameRate:  ptrFloat64(empty.GetSimFrameRate()),
		DevicePath:    ptrString(empty.GetDevicePath()),
		FrameInterval: ptrString(empty.GetFrameInterval().String()),
		ReplayPath:    ptrString(""),
		ReplayLoop:    ptrBool(false),
		Applet:        ptrString(""),
		Board:         ptrInt(0),
		Port:          ptrString(empty.GetPort()),
		GrabTimeout:   ptrString(empty.GetGrabTimeout().String()),
		SerialPort:    ptrString(""),
		SerialOptions: &opts,
		CapturePath:   ptrString(""),
		CapturePort:   ptrInt(int(empty.GetCapturePort())),
		JournalPath:   ptrString(""),
		Listen:        ptrString(empty.GetListen()),
		HealthListen:  ptrString(""),
	}
}
