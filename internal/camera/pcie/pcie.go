// Package pcie implements the camera backend for FPGA-based cameras attached
// over PCI Express. Frames are pushed by the device as events; the register
// map is enumerated when the device opens and exposed as properties.
package pcie

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/areascan/internal/camera"
)

const (
	SensorWidth  = 2048
	SensorHeight = 1088
	MaxFrameRate = 340.0

	bytesPerPixel = 2

	// RegisterPrefix is prepended to register names to form property names.
	RegisterPrefix = "reg-"

	PropSensorTemperature = "sensor-temperature"
	PropFPGATemperature   = "fpga-temperature"

	// eventSlack is added to the exposure time to bound a synchronous grab.
	eventSlack = 50 * time.Millisecond
)

// Registers the backend interprets.
const (
	regBitMode       = "bit_mode"
	regADCResolution = "adc_resolution"
	regExposure      = "cmosis_exp_time"
	regSensorTemp    = "sensor_temperature"
	regFPGATemp      = "fpga_temperature"
	exposureClockDiv = 129
	fpgaTempScale    = 503.975 / 1024.0
	kelvinOffset     = 273.15
	clock48MHz       = 48.0
	clock40MHz       = 40.0
	bitModeFPGA40MHz = 1
)

// FrameSize is the size in bytes of one sensor frame.
const FrameSize = SensorWidth * SensorHeight * bytesPerPixel

// Backend drives a Device.
type Backend struct {
	dev       Device
	clockMHz  float64
	bitDepth  uint64
	registers []camera.Discovered

	mu          sync.Mutex
	timeout     time.Duration
	triggerMode string
}

// Open opens the device at path with opener and reads its configuration.
// The device is closed again if it cannot be configured.
func Open(path string, opener Opener) (*Backend, error) {
	dev, err := opener(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", camera.ErrInitialization, path, err)
	}
	b, err := New(dev)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	diagf("opened %s: %d registers, %d-bit ADC, %.0f MHz clock", path, len(b.registers), b.bitDepth, b.clockMHz)
	return b, nil
}

// New wraps an open device. The register map is enumerated and every
// register's current value read back.
func New(dev Device) (*Backend, error) {
	b := &Backend{
		dev:         dev,
		triggerMode: camera.TriggerAuto,
		timeout:     eventSlack,
	}

	for _, r := range dev.Registers() {
		v, err := dev.ReadRegister(r.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", camera.ErrInitialization, r.Name, err)
		}
		b.registers = append(b.registers, camera.Discovered{
			Descriptor: camera.Descriptor{
				Name:   RegisterPrefix + r.Name,
				Blurb:  r.Description,
				Kind:   camera.KindUint,
				Access: camera.AccessForRegister(r.Mode),
			},
			Value: camera.Uint(uint64(v)),
		})
	}

	bitMode, err := dev.ReadRegister(regBitMode)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", camera.ErrInitialization, regBitMode, err)
	}
	b.clockMHz = clock48MHz
	if bitMode == bitModeFPGA40MHz {
		b.clockMHz = clock40MHz
	}

	adc, err := dev.ReadRegister(regADCResolution)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", camera.ErrInitialization, regADCResolution, err)
	}
	switch adc {
	case 0, 1, 2:
		b.bitDepth = 10 + uint64(adc)
	default:
		return nil, fmt.Errorf("%w: unknown ADC resolution %d", camera.ErrInitialization, adc)
	}
	return b, nil
}

// Discovered returns the enumerated register properties.
func (b *Backend) Discovered() []camera.Discovered { return b.registers }

func (b *Backend) Descriptors() []camera.Descriptor {
	return []camera.Descriptor{
		{Name: PropSensorTemperature, Blurb: "Temperature of the sensor in degree Celsius", Kind: camera.KindDouble, Access: camera.AccessRead},
		{Name: PropFPGATemperature, Blurb: "Temperature of the FPGA in degree Celsius", Kind: camera.KindDouble, Access: camera.AccessRead},
	}
}

// SensorTemperature converts a raw sensor_temperature reading.
func SensorTemperature(raw uint32, clockMHz float64) float64 {
	a, b := 0.3, 1000.0
	if clockMHz == clock40MHz {
		a, b = 0.25, 1200.0
	}
	return a * (float64(raw) - b)
}

// FPGATemperature converts a raw fpga_temperature reading.
func FPGATemperature(raw uint32) float64 {
	return fpgaTempScale*float64(raw) - kelvinOffset
}

// ExposureSeconds converts a cmosis_exp_time register value to seconds.
func ExposureSeconds(reg uint32, clockMHz float64) float64 {
	return float64(reg) * exposureClockDiv / clockMHz / 1e6
}

// ExposureRegister converts seconds to a cmosis_exp_time register value.
func ExposureRegister(seconds, clockMHz float64) uint32 {
	return uint32(math.Round(seconds * clockMHz * 1e6 / exposureClockDiv))
}

func (b *Backend) readRegister(name string) (uint32, error) {
	v, err := b.dev.ReadRegister(name)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	return v, nil
}

func (b *Backend) GetProperty(name string) (camera.Value, error) {
	switch name {
	case camera.PropName:
		return camera.String("ufo"), nil
	case camera.PropSensorWidth, camera.PropROIWidth:
		return camera.Uint(SensorWidth), nil
	case camera.PropSensorHeight, camera.PropROIHeight:
		return camera.Uint(SensorHeight), nil
	case camera.PropSensorBitdepth:
		return camera.Uint(b.bitDepth), nil
	case camera.PropSensorHorizontalBinning, camera.PropSensorVerticalBinning:
		return camera.Uint(1), nil
	case camera.PropSensorHorizontalBinnings, camera.PropSensorVerticalBinnings:
		return camera.UintArray(1), nil
	case camera.PropROIX, camera.PropROIY:
		return camera.Uint(0), nil
	case camera.PropROIWidthMultiplier, camera.PropROIHeightMultiplier:
		return camera.Uint(1), nil
	case camera.PropMaxFrameRate:
		return camera.Float(MaxFrameRate), nil
	case camera.PropHasStreaming:
		return camera.Bool(true), nil
	case camera.PropHasCamRAMRecording:
		return camera.Bool(false), nil
	case camera.PropTriggerMode:
		b.mu.Lock()
		defer b.mu.Unlock()
		return camera.String(b.triggerMode), nil
	case camera.PropExposureTime:
		reg, err := b.readRegister(regExposure)
		if err != nil {
			return camera.Value{}, err
		}
		return camera.Double(ExposureSeconds(reg, b.clockMHz)), nil
	case PropSensorTemperature:
		raw, err := b.readRegister(regSensorTemp)
		if err != nil {
			return camera.Value{}, err
		}
		return camera.Double(SensorTemperature(raw, b.clockMHz)), nil
	case PropFPGATemperature:
		raw, err := b.readRegister(regFPGATemp)
		if err != nil {
			return camera.Value{}, err
		}
		return camera.Double(FPGATemperature(raw)), nil
	}
	if reg, ok := registerName(name); ok {
		v, err := b.readRegister(reg)
		if err != nil {
			return camera.Value{}, err
		}
		return camera.Uint(uint64(v)), nil
	}
	return camera.Value{}, fmt.Errorf("%w: %s", camera.ErrNotImplemented, name)
}

func (b *Backend) SetProperty(name string, v camera.Value) error {
	switch name {
	case camera.PropExposureTime:
		if v.Double() <= 0 {
			return fmt.Errorf("%w: exposure %v", camera.ErrInvalidProperty, v.Double())
		}
		return b.dev.WriteRegister(regExposure, ExposureRegister(v.Double(), b.clockMHz))
	case camera.PropTriggerMode:
		switch mode := v.Str(); mode {
		case camera.TriggerAuto, camera.TriggerSoftware:
			b.mu.Lock()
			b.triggerMode = mode
			b.mu.Unlock()
			return nil
		default:
			return fmt.Errorf("%w: trigger mode %q", camera.ErrInvalidProperty, mode)
		}
	}
	if reg, ok := registerName(name); ok {
		if v.Uint() > math.MaxUint32 {
			return fmt.Errorf("%w: %s value %d exceeds 32 bits", camera.ErrInvalidProperty, name, v.Uint())
		}
		if err := b.dev.WriteRegister(reg, uint32(v.Uint())); err != nil {
			return fmt.Errorf("write %s: %w", reg, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", camera.ErrNotImplemented, name)
}

func registerName(prop string) (string, bool) {
	if len(prop) <= len(RegisterPrefix) || prop[:len(RegisterPrefix)] != RegisterPrefix {
		return "", false
	}
	return prop[len(RegisterPrefix):], true
}

// StartRecording starts the device and derives the event timeout from the
// current exposure time.
func (b *Backend) StartRecording(async bool) error {
	exposure, err := b.GetProperty(camera.PropExposureTime)
	if err != nil {
		return fmt.Errorf("%w: %w", camera.ErrStartRecording, err)
	}
	if err := b.dev.Start(); err != nil {
		return fmt.Errorf("%w: %w", camera.ErrStartRecording, err)
	}
	timeout := time.Duration(exposure.Double()*float64(time.Second)) + eventSlack
	b.mu.Lock()
	b.timeout = timeout
	b.mu.Unlock()
	diagf("recording: async=%v timeout=%v", async, timeout)
	return nil
}

func (b *Backend) StopRecording() error {
	if err := b.dev.Stop(); err != nil {
		return fmt.Errorf("%w: %w", camera.ErrStopRecording, err)
	}
	return nil
}

// Timeout returns how long a synchronous grab waits for its event.
func (b *Backend) Timeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeout
}

// Grab triggers one frame and copies it into buf. A frame whose buffer could
// not be handed back to the device is returned together with an error
// wrapping camera.ErrDataIntegrity.
func (b *Backend) Grab(buf []byte) ([]byte, error) {
	if err := b.dev.Trigger(); err != nil {
		return nil, fmt.Errorf("%w: %w", camera.ErrTrigger, err)
	}
	id, err := b.dev.NextEvent(b.Timeout())
	if err != nil {
		return nil, wrapErr(camera.ErrEventTimeout, err)
	}
	src, err := b.dev.Data(id)
	if err != nil || src == nil {
		return nil, wrapErr(camera.ErrDataUnavailable, err)
	}
	if len(src) < FrameSize {
		_ = b.dev.ReturnData(id)
		return nil, fmt.Errorf("%w: event %d carried %d bytes", camera.ErrDataUnavailable, id, len(src))
	}
	if len(buf) < FrameSize {
		buf = make([]byte, FrameSize)
	}
	buf = buf[:FrameSize]
	copy(buf, src)
	if err := b.dev.ReturnData(id); err != nil {
		return buf, fmt.Errorf("%w: return event %d: %w", camera.ErrDataIntegrity, id, err)
	}
	return buf, nil
}

func wrapErr(kind, err error) error {
	if err == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Subscribe triggers the first frame and streams events into d. Every event
// is re-triggered once handled; events without data are re-triggered
// immediately.
func (b *Backend) Subscribe(d camera.Dispatcher) (camera.Subscription, error) {
	if err := b.dev.Trigger(); err != nil {
		return nil, fmt.Errorf("%w: %w", camera.ErrTrigger, err)
	}
	cancel, err := b.dev.Stream(func(id EventID) { b.handleEvent(d, id) })
	if err != nil {
		return nil, fmt.Errorf("%w: stream: %w", camera.ErrStartRecording, err)
	}
	return subscription(cancel), nil
}

type subscription func() error

func (s subscription) Cancel() error { return s() }

func (b *Backend) handleEvent(d camera.Dispatcher, id EventID) {
	src, err := b.dev.Data(id)
	if err != nil || src == nil {
		tracef("event %d without data: %v", id, err)
		b.retrigger(d)
		return
	}

	seq, dispatchErr := d.Dispatch(src)
	if err := b.dev.ReturnData(id); err != nil && dispatchErr == nil {
		d.Report(&camera.IntegrityWarning{Seq: seq, Err: fmt.Errorf("return event %d: %w", id, err)})
	}
	b.retrigger(d)
}

func (b *Backend) retrigger(d camera.Dispatcher) {
	if err := b.dev.Trigger(); err != nil {
		d.Report(fmt.Errorf("%w: %w", camera.ErrTrigger, err))
	}
}

func (b *Backend) Close() error {
	return b.dev.Close()
}
