package pcie

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/areascan/internal/camera"
)

// FrameSource supplies frame payloads to a SimDevice.
type FrameSource interface {
	NextFrame() ([]byte, error)
}

var (
	errNotStarted = errors.New("device not started")
	errQueueFull  = errors.New("event queue full")
)

const simQueueDepth = 64

// SimOption configures a SimDevice.
type SimOption func(*SimDevice)

// WithFrameSource feeds frames from src instead of the built-in pattern. An
// error from src produces an event without data.
func WithFrameSource(src FrameSource) SimOption {
	return func(d *SimDevice) { d.source = src }
}

// WithFrameInterval sets the delay between a trigger and its event.
func WithFrameInterval(interval time.Duration) SimOption {
	return func(d *SimDevice) { d.interval = interval }
}

// SimDevice is an in-memory Device. Built-in frames are a fixed pattern with
// the device frame counter stored little-endian in the first eight bytes.
type SimDevice struct {
	mu          sync.Mutex
	regs        map[string]*simRegister
	order       []Register
	base        []byte
	free        [][]byte
	source      FrameSource
	interval    time.Duration
	events      chan simEvent
	outstanding map[EventID][]byte
	nextID      EventID
	frames      uint64
	started     bool
	streaming   bool

	noData     int
	returnErr  error
	triggerErr error
	triggers   int
	closes     int
}

type simRegister struct {
	Register
	value uint32
}

type simEvent struct {
	id    EventID
	ready time.Time
}

// NewSimDevice returns a device with a 48 MHz clock, a 12-bit ADC and a
// 1 ms exposure.
func NewSimDevice(opts ...SimOption) *SimDevice {
	maxFrameRate := MaxFrameRate
	d := &SimDevice{
		regs:        make(map[string]*simRegister),
		interval:    time.Duration(float64(time.Second) / maxFrameRate),
		events:      make(chan simEvent, simQueueDepth),
		outstanding: make(map[EventID][]byte),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, r := range []struct {
		reg   Register
		value uint32
	}{
		{Register{Name: regBitMode, Mode: camera.RegisterRW, Description: "FPGA clock select"}, 0},
		{Register{Name: regADCResolution, Mode: camera.RegisterRW, Description: "ADC resolution"}, 2},
		{Register{Name: regExposure, Mode: camera.RegisterRW, Description: "Exposure time in clock cycles"}, ExposureRegister(0.001, clock48MHz)},
		{Register{Name: regSensorTemp, Mode: camera.RegisterR, Description: "Raw sensor temperature"}, 1100},
		{Register{Name: regFPGATemp, Mode: camera.RegisterR, Description: "Raw FPGA temperature"}, 655},
		{Register{Name: "control", Mode: camera.RegisterRW, Description: "Control word"}, 0},
		{Register{Name: "status", Mode: camera.RegisterR, Description: "Status word"}, 0},
		{Register{Name: "reset", Mode: camera.RegisterW, Description: "Reset strobe"}, 0},
		{Register{Name: "irq_status", Mode: camera.RegisterRW1C, Description: "Interrupt status"}, 0},
	} {
		d.regs[r.reg.Name] = &simRegister{Register: r.reg, value: r.value}
		d.order = append(d.order, r.reg)
	}

	d.base = make([]byte, FrameSize)
	for i := 0; i < FrameSize; i += bytesPerPixel {
		px := i / bytesPerPixel
		binary.LittleEndian.PutUint16(d.base[i:], uint16((px%SensorWidth+px/SensorWidth)&0xfff))
	}
	return d
}

// Opener returns an Opener that hands out d regardless of path.
func (d *SimDevice) Opener() Opener {
	return func(string) (Device, error) { return d, nil }
}

func (d *SimDevice) Registers() []Register {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Register(nil), d.order...)
}

func (d *SimDevice) ReadRegister(name string) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.regs[name]
	if !ok {
		return 0, fmt.Errorf("unknown register %q", name)
	}
	return r.value, nil
}

func (d *SimDevice) WriteRegister(name string, value uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.regs[name]
	if !ok {
		return fmt.Errorf("unknown register %q", name)
	}
	switch r.Mode {
	case camera.RegisterR:
		return fmt.Errorf("register %q is read-only", name)
	case camera.RegisterW1C, camera.RegisterRW1C:
		r.value &^= value
	default:
		r.value = value
	}
	return nil
}

// SetRegister changes a register as the hardware would, bypassing its mode.
func (d *SimDevice) SetRegister(name string, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.regs[name]; ok {
		r.value = value
	}
}

func (d *SimDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

// Stop halts acquisition and drops queued events.
func (d *SimDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
drain:
	for {
		select {
		case <-d.events:
		default:
			break drain
		}
	}
	for id, buf := range d.outstanding {
		d.release(buf)
		delete(d.outstanding, id)
	}
	return nil
}

func (d *SimDevice) release(buf []byte) {
	if buf != nil {
		d.free = append(d.free, buf)
	}
}

func (d *SimDevice) Trigger() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.triggers++
	if d.triggerErr != nil {
		return d.triggerErr
	}
	if !d.started {
		return errNotStarted
	}

	var frame []byte
	if d.noData > 0 {
		d.noData--
	} else {
		frame = d.nextFrame()
	}
	id := d.nextID
	select {
	case d.events <- simEvent{id: id, ready: time.Now().Add(d.interval)}:
	default:
		d.release(frame)
		return errQueueFull
	}
	d.nextID++
	d.outstanding[id] = frame
	return nil
}

// nextFrame fills a buffer from the source or the built-in pattern. It
// returns nil when the source has nothing to deliver.
func (d *SimDevice) nextFrame() []byte {
	var buf []byte
	if n := len(d.free); n > 0 {
		buf, d.free = d.free[n-1], d.free[:n-1]
	} else {
		buf = make([]byte, FrameSize)
	}

	if d.source != nil {
		p, err := d.source.NextFrame()
		if err != nil {
			diagf("frame source: %v", err)
			d.release(buf)
			return nil
		}
		clear(buf[copy(buf, p):])
	} else {
		copy(buf, d.base)
		binary.LittleEndian.PutUint64(buf, d.frames)
	}
	d.frames++
	return buf
}

func waitUntil(t time.Time, stop <-chan struct{}) bool {
	wait := time.Until(t)
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}

func (d *SimDevice) NextEvent(timeout time.Duration) (EventID, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case ev := <-d.events:
		if wait := time.Until(ev.ready); wait > timeout {
			return 0, fmt.Errorf("event %d not ready within %v", ev.id, timeout)
		} else if wait > 0 {
			time.Sleep(wait)
		}
		return ev.id, nil
	case <-deadline.C:
		return 0, fmt.Errorf("no event within %v", timeout)
	}
}

func (d *SimDevice) Data(id EventID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.outstanding[id]
	if !ok {
		return nil, fmt.Errorf("unknown event %d", id)
	}
	if buf == nil {
		delete(d.outstanding, id)
		return nil, fmt.Errorf("%w: event %d", camera.ErrDataUnavailable, id)
	}
	return buf, nil
}

func (d *SimDevice) ReturnData(id EventID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.outstanding[id]
	if !ok {
		return fmt.Errorf("unknown event %d", id)
	}
	delete(d.outstanding, id)
	d.release(buf)
	return d.returnErr
}

func (d *SimDevice) Stream(fn func(EventID)) (func() error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming {
		return nil, errors.New("already streaming")
	}
	d.streaming = true

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case ev := <-d.events:
				if !waitUntil(ev.ready, stop) {
					return
				}
				fn(ev.id)
			}
		}
	}()

	var once sync.Once
	return func() error {
		once.Do(func() {
			close(stop)
			<-done
			d.mu.Lock()
			d.streaming = false
			d.mu.Unlock()
		})
		return nil
	}, nil
}

// Close counts releases of the device handle.
func (d *SimDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

// FailNextData makes the next n triggered events carry no data.
func (d *SimDevice) FailNextData(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noData = n
}

// SetReturnError makes ReturnData fail with err until cleared with nil.
func (d *SimDevice) SetReturnError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.returnErr = err
}

// SetTriggerError makes Trigger fail with err until cleared with nil.
func (d *SimDevice) SetTriggerError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.triggerErr = err
}

// Triggers returns how many times Trigger was called.
func (d *SimDevice) Triggers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggers
}

// Closes returns how many times Close was called.
func (d *SimDevice) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// FrameCounter reads the device frame counter embedded in a built-in frame.
func FrameCounter(frame []byte) uint64 {
	if len(frame) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(frame)
}
