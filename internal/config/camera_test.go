package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/areascan/internal/serialmux"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyCameraConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendSimulated, cfg.GetBackend())
	assert.Equal(t, 32, cfg.GetRingCapacity())
	assert.Equal(t, 256, cfg.GetStatsWindow())
	assert.True(t, cfg.GetAsync())
	assert.Zero(t, cfg.GetFrames())
	assert.Zero(t, cfg.GetDuration())
	w, h := cfg.GetSimSize()
	assert.Equal(t, [2]int{640, 480}, [2]int{w, h})
	assert.Equal(t, 100.0, cfg.GetSimFrameRate())
	assert.Equal(t, "/dev/fpga0", cfg.GetDevicePath())
	assert.Equal(t, 10*time.Millisecond, cfg.GetFrameInterval())
	assert.Equal(t, "A", cfg.GetPort())
	assert.Equal(t, time.Second, cfg.GetGrabTimeout())
	assert.Equal(t, serialmux.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, cfg.GetSerialOptions())
	assert.Equal(t, uint16(50001), cfg.GetCapturePort())
	assert.Equal(t, "localhost:8080", cfg.GetListen())
	assert.Empty(t, cfg.GetSerialPort())
	assert.Empty(t, cfg.GetJournalPath())
	assert.Empty(t, cfg.GetHealthListen())
}

func TestDefaultCameraConfigMatchesGetters(t *testing.T) {
	def := DefaultCameraConfig()
	require.NoError(t, def.Validate())
	empty := EmptyCameraConfig()

	assert.Equal(t, empty.GetBackend(), def.GetBackend())
	assert.Equal(t, empty.GetRingCapacity(), def.GetRingCapacity())
	assert.Equal(t, empty.GetFrameInterval(), def.GetFrameInterval())
	assert.Equal(t, empty.GetGrabTimeout(), def.GetGrabTimeout())
	assert.Equal(t, empty.GetSerialOptions(), def.GetSerialOptions())
	assert.Equal(t, empty.GetCapturePort(), def.GetCapturePort())
}

func TestLoadCameraConfig(t *testing.T) {
	path := writeConfig(t, "camera.json", `{
  "backend": "GRABBER",
  "ring_capacity": 4,
  "async": false,
  "frames": 100,
  "duration": "2s",
  "properties": {"exposure-time": 0.002, "roi-width": 512},
  "board": 0,
  "port": "b",
  "grab_timeout": "250ms",
  "serial_port": "mock",
  "serial_options": {"baud_rate": 115200, "parity": "even"},
  "init_commands": ["set gain 2", "get model"],
  "journal_path": "/tmp/journal.db"
}`)
	cfg, err := LoadCameraConfig(path)
	require.NoError(t, err)

	assert.Equal(t, BackendGrabber, cfg.GetBackend())
	assert.Equal(t, 4, cfg.GetRingCapacity())
	assert.False(t, cfg.GetAsync())
	assert.Equal(t, 100, cfg.GetFrames())
	assert.Equal(t, 2*time.Second, cfg.GetDuration())
	assert.Equal(t, "B", cfg.GetPort())
	assert.Equal(t, 250*time.Millisecond, cfg.GetGrabTimeout())
	assert.Equal(t, SerialMock, cfg.GetSerialPort())
	assert.Equal(t, serialmux.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "E"}, cfg.GetSerialOptions())
	assert.Equal(t, []string{"set gain 2", "get model"}, cfg.InitCommands)
	assert.Equal(t, "/tmp/journal.db", cfg.GetJournalPath())

	want := map[string]any{"exposure-time": 0.002, "roi-width": float64(512)}
	if diff := cmp.Diff(want, cfg.Properties); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadCameraConfig_Errors(t *testing.T) {
	_, err := LoadCameraConfig(writeConfig(t, "camera.yaml", `{}`))
	assert.ErrorContains(t, err, ".json extension")

	_, err = LoadCameraConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "stat")

	_, err = LoadCameraConfig(writeConfig(t, "bad.json", `{"backend": `))
	assert.ErrorContains(t, err, "parse")

	big := `{"applet": "` + strings.Repeat("x", maxFileSize) + `"}`
	_, err = LoadCameraConfig(writeConfig(t, "big.json", big))
	assert.ErrorContains(t, err, "too large")

	_, err = LoadCameraConfig(writeConfig(t, "invalid.json", `{"ring_capacity": 0}`))
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{"unknown backend", `{"backend": "usb"}`, "unknown backend"},
		{"ring capacity", `{"ring_capacity": 0}`, "ring_capacity"},
		{"stats window", `{"stats_window": -1}`, "stats_window"},
		{"negative frames", `{"frames": -5}`, "frames"},
		{"bad duration", `{"duration": "soon"}`, "duration"},
		{"negative interval", `{"frame_interval": "-1s"}`, "frame_interval"},
		{"bad grab timeout", `{"grab_timeout": "1 second"}`, "grab_timeout"},
		{"sim width", `{"sim_width": 0}`, "sim_width"},
		{"sim height", `{"sim_height": -2}`, "sim_height"},
		{"sim frame rate", `{"sim_frame_rate": 0}`, "sim_frame_rate"},
		{"board", `{"board": -1}`, "board"},
		{"port", `{"port": "C"}`, "port"},
		{"replay on mock", `{"replay_path": "x.pcap"}`, "replay_path"},
		{"serial parity", `{"serial_options": {"parity": "mark"}}`, "serial_options"},
		{"serial stop bits", `{"serial_options": {"stop_bits": 3}}`, "serial_options"},
		{"capture port", `{"capture_port": 70000}`, "capture_port"},
		{"replay on pcie", `{"backend": "pcie", "replay_path": "x.pcap"}`, ""},
		{"valid grabber", `{"backend": "grabber", "port": "a"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCameraConfig(writeConfig(t, "c.json", tt.json))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDefaultsFileLoads(t *testing.T) {
	cfg, err := LoadCameraConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)
	assert.Equal(t, BackendSimulated, cfg.GetBackend())
	assert.Equal(t, "auto", cfg.Properties["trigger-mode"])
}
