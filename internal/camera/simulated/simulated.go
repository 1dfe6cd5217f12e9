// Package simulated implements a camera backend that renders frames in
// software. Every frame carries a nine-digit counter drawn near the top-left
// corner, which makes lost or reordered frames visible to tests and viewers.
package simulated

import (
	"fmt"
	"sync"

	"github.com/banshee-data/areascan/internal/camera"
)

const (
	DefaultWidth        = 640
	DefaultHeight       = 480
	DefaultFrameRate    = 100.0
	DefaultMaxFrameRate = 100000.0
	DefaultExposure     = 0.001

	minFrameRate = 1.0
)

// Option configures a Backend.
type Option func(*Backend)

// WithSize sets the sensor geometry.
func WithSize(width, height int) Option {
	return func(b *Backend) { b.width, b.height = width, height }
}

// WithFrameRate sets the initial polling rate.
func WithFrameRate(fps float32) Option {
	return func(b *Backend) { b.frameRate = fps }
}

// WithPattern replaces the background every frame is copied from. The pattern
// must be width*height bytes.
func WithPattern(p []byte) Option {
	return func(b *Backend) { b.pattern = p }
}

// Backend is the software camera. It is always driven by polling; the frame
// counter advances once per grabbed frame.
type Backend struct {
	mu           sync.Mutex
	width        int
	height       int
	pattern      []byte
	counter      uint32
	frameRate    float32
	maxFrameRate float32
	exposure     float64
	triggerMode  string
	roi          [4]uint64 // x, y, width, height
	recording    bool
}

// New creates a simulated camera with a gradient background.
func New(opts ...Option) (*Backend, error) {
	b := &Backend{
		width:        DefaultWidth,
		height:       DefaultHeight,
		frameRate:    DefaultFrameRate,
		maxFrameRate: DefaultMaxFrameRate,
		exposure:     DefaultExposure,
		triggerMode:  camera.TriggerAuto,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.width < minCounterWidth || b.height < minCounterHeight {
		return nil, fmt.Errorf("%w: %dx%d is too small for the frame counter", camera.ErrInitialization, b.width, b.height)
	}
	if b.frameRate < minFrameRate || b.frameRate > b.maxFrameRate {
		return nil, fmt.Errorf("%w: frame rate %v outside [%v, %v]", camera.ErrInitialization, b.frameRate, minFrameRate, b.maxFrameRate)
	}
	if b.pattern == nil {
		b.pattern = gradient(b.width, b.height)
	} else if len(b.pattern) != b.width*b.height {
		return nil, fmt.Errorf("%w: pattern of %d bytes for %dx%d sensor", camera.ErrInitialization, len(b.pattern), b.width, b.height)
	}
	b.roi = [4]uint64{0, 0, uint64(b.width), uint64(b.height)}
	return b, nil
}

func gradient(width, height int) []byte {
	p := make([]byte, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p[y*width+x] = byte((x + y) / 4)
		}
	}
	return p
}

func (b *Backend) Descriptors() []camera.Descriptor {
	return []camera.Descriptor{{
		Name:    camera.PropFrameRate,
		Blurb:   "Rate at which frames are produced",
		Kind:    camera.KindFloat,
		Access:  camera.AccessReadWrite,
		Default: camera.Float(DefaultFrameRate),
	}}
}

// FrameRate returns the current polling rate.
func (b *Backend) FrameRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.frameRate)
}

func (b *Backend) GetProperty(name string) (camera.Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch name {
	case camera.PropName:
		return camera.String("mock"), nil
	case camera.PropSensorWidth:
		return camera.Uint(uint64(b.width)), nil
	case camera.PropSensorHeight:
		return camera.Uint(uint64(b.height)), nil
	case camera.PropSensorBitdepth:
		return camera.Uint(8), nil
	case camera.PropSensorHorizontalBinning, camera.PropSensorVerticalBinning:
		return camera.Uint(1), nil
	case camera.PropSensorHorizontalBinnings, camera.PropSensorVerticalBinnings:
		return camera.UintArray(1), nil
	case camera.PropExposureTime:
		return camera.Double(b.exposure), nil
	case camera.PropROIX:
		return camera.Uint(b.roi[0]), nil
	case camera.PropROIY:
		return camera.Uint(b.roi[1]), nil
	case camera.PropROIWidth:
		return camera.Uint(b.roi[2]), nil
	case camera.PropROIHeight:
		return camera.Uint(b.roi[3]), nil
	case camera.PropROIWidthMultiplier, camera.PropROIHeightMultiplier:
		return camera.Uint(1), nil
	case camera.PropMaxFrameRate:
		return camera.Float(b.maxFrameRate), nil
	case camera.PropFrameRate:
		return camera.Float(b.frameRate), nil
	case camera.PropHasStreaming:
		return camera.Bool(true), nil
	case camera.PropHasCamRAMRecording:
		return camera.Bool(false), nil
	case camera.PropTriggerMode:
		return camera.String(b.triggerMode), nil
	}
	return camera.Value{}, fmt.Errorf("%w: %s", camera.ErrNotImplemented, name)
}

func (b *Backend) SetProperty(name string, v camera.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch name {
	case camera.PropSensorHorizontalBinning, camera.PropSensorVerticalBinning:
		if v.Uint() != 1 {
			return fmt.Errorf("%w: %s %d unsupported", camera.ErrInvalidProperty, name, v.Uint())
		}
		return nil
	case camera.PropExposureTime:
		if v.Double() <= 0 {
			return fmt.Errorf("%w: exposure %v", camera.ErrInvalidProperty, v.Double())
		}
		b.exposure = v.Double()
		return nil
	case camera.PropROIX, camera.PropROIY, camera.PropROIWidth, camera.PropROIHeight:
		return b.setROI(name, v.Uint())
	case camera.PropFrameRate:
		r := v.Float()
		if r < minFrameRate || r > b.maxFrameRate {
			return fmt.Errorf("%w: frame rate %v outside [%v, %v]", camera.ErrInvalidProperty, r, minFrameRate, b.maxFrameRate)
		}
		if b.recording {
			return fmt.Errorf("%w: frame rate is fixed while recording", camera.ErrInvalidState)
		}
		b.frameRate = r
		return nil
	case camera.PropTriggerMode:
		switch mode := v.Str(); mode {
		case camera.TriggerAuto, camera.TriggerSoftware:
			b.triggerMode = mode
			return nil
		default:
			return fmt.Errorf("%w: trigger mode %q", camera.ErrInvalidProperty, mode)
		}
	}
	return fmt.Errorf("%w: %s", camera.ErrNotImplemented, name)
}

// setROI validates the region against the sensor. Frames always cover the
// full sensor; the region is reported back but not applied.
func (b *Backend) setROI(name string, u uint64) error {
	roi := b.roi
	switch name {
	case camera.PropROIX:
		roi[0] = u
	case camera.PropROIY:
		roi[1] = u
	case camera.PropROIWidth:
		roi[2] = u
	case camera.PropROIHeight:
		roi[3] = u
	}
	if roi[2] == 0 || roi[3] == 0 || roi[0]+roi[2] > uint64(b.width) || roi[1]+roi[3] > uint64(b.height) {
		return fmt.Errorf("%w: region %v exceeds %dx%d sensor", camera.ErrInvalidProperty, roi, b.width, b.height)
	}
	b.roi = roi
	return nil
}

func (b *Backend) StartRecording(async bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recording = true
	return nil
}

func (b *Backend) StopRecording() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recording = false
	return nil
}

// Grab renders the next frame into buf, allocating when buf is too small.
func (b *Backend) Grab(buf []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	size := b.width * b.height
	if len(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	copy(buf, b.pattern)
	drawCounter(buf, b.width, b.counter)
	b.counter++
	return buf, nil
}

// Counter returns the number of frames rendered so far.
func (b *Backend) Counter() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counter
}

func (b *Backend) Close() error { return nil }
