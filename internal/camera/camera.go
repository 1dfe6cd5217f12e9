// Package camera implements the device-independent half of the acquisition
// stack: a property registry shared by all backends, the acquisition state
// machine, and delivery of asynchronously produced frames through a ring
// buffer.
package camera

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/areascan/internal/ringbuffer"
	"github.com/banshee-data/areascan/internal/timeutil"
)

// State is the acquisition state of a Camera.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateReadout
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateReadout:
		return "readout"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Frame is one delivered image. Data aliases ring storage for frames read
// through Frame, Latest or the frame handler and is only valid until the
// producer wraps around to the same slot.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Data      []byte
}

// SessionInfo describes the current or most recent recording session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Async     bool      `json:"async"`
	StartedAt time.Time `json:"started_at"`
	FrameRate float64   `json:"frame_rate,omitempty"`
	FrameSize int       `json:"frame_size"`
}

const (
	DefaultRingCapacity = 32
	defaultFrameRate    = 25.0
)

// Option configures a Camera.
type Option func(*Camera)

// WithRingCapacity sets the number of frames the ring buffer retains.
func WithRingCapacity(n int) Option {
	return func(c *Camera) { c.ringCapacity = n }
}

// WithClock replaces the clock used for timestamps and polling.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Camera) { c.clock = clock }
}

// WithFrameHandler installs a callback run on the producer goroutine for
// every frame committed to the ring. The handler must not call lifecycle
// methods on the camera.
func WithFrameHandler(fn func(Frame)) Option {
	return func(c *Camera) { c.onFrame = fn }
}

// WithErrorHandler installs a callback for faults raised while frames are
// produced asynchronously.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Camera) { c.onError = fn }
}

// WithStatsWindow sets how many inter-frame intervals are kept for statistics.
func WithStatsWindow(n int) Option {
	return func(c *Camera) { c.statsWindow = n }
}

// Camera drives a Backend through the Idle, Recording and Readout states and
// exposes its properties through a Registry.
type Camera struct {
	backend      Backend
	registry     *Registry
	clock        timeutil.Clock
	ringCapacity int
	statsWindow  int
	onFrame      func(Frame)
	onError      func(error)

	// mu serialises lifecycle transitions and synchronous grabs.
	mu       sync.Mutex
	producer producer
	// spare is a ring no session reads from. A new session is built on it
	// and the previous session's ring becomes the spare once the start
	// succeeds.
	spare  *ringbuffer.RingBuffer
	closed bool

	state         atomic.Int32
	transferAsync atomic.Bool
	seq           atomic.Uint64
	session       atomic.Pointer[session]
}

// New wraps b and builds its property registry. New takes ownership of b and
// closes it if the registry cannot be built.
func New(b Backend, opts ...Option) (*Camera, error) {
	c := &Camera{
		backend:      b,
		clock:        timeutil.RealClock{},
		ringCapacity: DefaultRingCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.registry = NewRegistry(c)

	var errs []error
	for _, d := range b.Descriptors() {
		errs = append(errs, c.registry.Register(d))
	}
	if disc, ok := b.(Discoverer); ok {
		for _, p := range disc.Discovered() {
			errs = append(errs, c.registry.RegisterDiscovered(p))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, errors.Join(wrapKind(ErrInitialization, err), b.Close())
	}
	return c, nil
}

// Backend returns the wrapped backend.
func (c *Camera) Backend() Backend { return c.backend }

// Registry returns the camera's property registry.
func (c *Camera) Registry() *Registry { return c.registry }

// Get reads a property through the registry.
func (c *Camera) Get(name string) (Value, error) { return c.registry.Get(name) }

// Set writes a property through the registry.
func (c *Camera) Set(name string, v Value) error { return c.registry.Set(name, v) }

// State returns the current acquisition state.
func (c *Camera) State() State { return State(c.state.Load()) }

func (c *Camera) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		diagf("%s -> %s", old, s)
	}
}

// GetProperty answers the state-derived properties and forwards everything
// else to the backend.
func (c *Camera) GetProperty(name string) (Value, error) {
	switch name {
	case PropTransferAsynchronously:
		return Bool(c.transferAsync.Load()), nil
	case PropIsRecording:
		return Bool(c.State() == StateRecording), nil
	case PropIsReadout:
		return Bool(c.State() == StateReadout), nil
	}
	return c.backend.GetProperty(name)
}

// SetProperty handles transfer-asynchronously and forwards everything else
// to the backend.
func (c *Camera) SetProperty(name string, v Value) error {
	if name == PropTransferAsynchronously {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.State() != StateIdle {
			return fmt.Errorf("%w: %s cannot change while %s", ErrInvalidState, name, c.State())
		}
		c.transferAsync.Store(v.Bool())
		return nil
	}
	return c.backend.SetProperty(name, v)
}

// FrameSize returns the size in bytes of one full-sensor frame.
func (c *Camera) FrameSize() (int, error) {
	var dims [3]uint64
	for i, name := range []string{PropSensorWidth, PropSensorHeight, PropSensorBitdepth} {
		v, err := c.registry.Get(name)
		if err != nil {
			return 0, err
		}
		dims[i] = v.Uint()
	}
	bytesPerPixel := (dims[2] + 7) / 8
	size := dims[0] * dims[1] * bytesPerPixel
	if size == 0 || size > math.MaxInt {
		return 0, fmt.Errorf("%w: %dx%d at %d bits", ErrAllocation, dims[0], dims[1], dims[2])
	}
	return int(size), nil
}

// frameRate picks the polling rate for backends without an event source.
func (c *Camera) frameRate() float64 {
	if p, ok := c.backend.(Pacer); ok {
		if r := p.FrameRate(); r > 0 && !math.IsInf(r, 0) {
			return r
		}
	}
	for _, name := range []string{PropFrameRate, PropMaxFrameRate} {
		if _, ok := c.registry.Describe(name); !ok {
			continue
		}
		v, err := c.registry.Get(name)
		if err != nil {
			continue
		}
		if r, ok := v.Number(); ok && r > 0 && !math.IsInf(r, 0) {
			return r
		}
	}
	return defaultFrameRate
}

// Start begins recording using the transfer-asynchronously property.
func (c *Camera) Start() error {
	return c.StartRecording(c.transferAsync.Load())
}

// StartRecording moves the camera from Idle to Recording. With async set,
// frames are produced into the ring buffer until StopRecording; otherwise the
// caller pulls frames with Grab.
func (c *Camera) StartRecording(async bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: camera closed", ErrInvalidState)
	}
	if st := c.State(); st != StateIdle {
		return fmt.Errorf("%w: start recording while %s", ErrInvalidState, st)
	}

	size, err := c.FrameSize()
	if err != nil {
		return err
	}
	ring := c.spare
	if ring == nil || ring.BlockSize() != size || ring.Capacity() != c.ringCapacity {
		if ring, err = ringbuffer.New(size, c.ringCapacity); err != nil {
			opsf("allocate ring of %d x %d bytes: %v", c.ringCapacity, size, err)
			return err
		}
	}
	ring.Reset()
	c.spare = ring

	s := &session{
		id:        uuid.NewString(),
		async:     async,
		startedAt: c.clock.Now(),
		ring:      ring,
		seqs:      make([]atomic.Uint64, c.ringCapacity),
		stamps:    make([]atomic.Int64, c.ringCapacity),
		stats:     newStats(c.statsWindow),
	}
	s.stats.reset(s.startedAt)
	if async {
		s.frameRate = c.frameRate()
	}

	if err := c.backend.StartRecording(async); err != nil {
		opsf("start recording: %v", err)
		return wrapKind(ErrStartRecording, err)
	}

	var p producer
	if async {
		d := &sessionDispatcher{c: c, s: s}
		if src, ok := c.backend.(EventSource); ok {
			p = &eventProducer{src: src, d: d}
		} else {
			p = newPollingProducer(c.backend, d, c.clock, s.frameRate)
		}
		if err := p.start(); err != nil {
			opsf("start producer: %v", err)
			return errors.Join(err, c.backend.StopRecording())
		}
	}

	// The previous session stays readable until here.
	c.spare = nil
	if prev := c.session.Swap(s); prev != nil && prev.ring != ring {
		c.spare = prev.ring
	}
	c.transferAsync.Store(async)
	c.producer = p
	c.setState(StateRecording)
	diagf("session %s started: async=%v frame=%d bytes ring=%d", s.id, async, size, c.ringCapacity)
	return nil
}

// haltProducer stops asynchronous delivery. No frame is committed after it
// returns.
func (c *Camera) haltProducer() error {
	if c.producer == nil {
		return nil
	}
	err := c.producer.halt()
	c.producer = nil
	return err
}

// StopRecording returns the camera to Idle from Recording or Readout.
func (c *Camera) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Camera) stopLocked() error {
	switch st := c.State(); st {
	case StateRecording:
		errs := []error{c.haltProducer()}
		if err := c.backend.StopRecording(); err != nil {
			opsf("stop recording: %v", err)
			errs = append(errs, wrapKind(ErrStopRecording, err))
		}
		c.setState(StateIdle)
		return errors.Join(errs...)
	case StateReadout:
		err := c.backend.(Readouter).StopReadout()
		c.setState(StateIdle)
		return err
	default:
		return fmt.Errorf("%w: stop recording while %s", ErrInvalidState, st)
	}
}

// StartReadout ends recording and starts reading frames from on-board camera
// memory. Backends without on-board memory return ErrNotImplemented and the
// camera keeps recording.
func (c *Camera) StartReadout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.State(); st != StateRecording {
		return fmt.Errorf("%w: start readout while %s", ErrInvalidState, st)
	}
	r, ok := c.backend.(Readouter)
	if !ok {
		return fmt.Errorf("%w: readout", ErrNotImplemented)
	}

	if err := c.haltProducer(); err != nil {
		opsf("halt producer: %v", err)
	}
	if err := c.backend.StopRecording(); err != nil {
		c.setState(StateIdle)
		return wrapKind(ErrStopRecording, err)
	}
	if err := r.StartReadout(); err != nil {
		c.setState(StateIdle)
		return err
	}
	c.setState(StateReadout)
	return nil
}

// StopReadout leaves Readout for Idle.
func (c *Camera) StopReadout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.State(); st != StateReadout {
		return fmt.Errorf("%w: stop readout while %s", ErrInvalidState, st)
	}
	return c.stopLocked()
}

// Grab pulls one frame synchronously. It is legal while recording without
// asynchronous transfer and during readout. buf may be nil, in which case a
// frame buffer is allocated. A frame returned with an *IntegrityWarning is
// still valid.
func (c *Camera) Grab(buf []byte) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.State()
	if st == StateIdle {
		return Frame{}, fmt.Errorf("%w: grab while idle", ErrInvalidState)
	}
	s := c.session.Load()
	if st == StateRecording && s.async {
		return Frame{}, fmt.Errorf("%w: grab during asynchronous transfer", ErrInvalidState)
	}

	size, err := c.FrameSize()
	if err != nil {
		return Frame{}, err
	}
	if len(buf) < size {
		buf = make([]byte, size)
	}
	out, err := c.backend.Grab(buf[:size])
	if err != nil && !errors.Is(err, ErrDataIntegrity) {
		s.stats.observeError(err)
		return Frame{}, err
	}

	seq := c.seq.Add(1) - 1
	now := c.clock.Now()
	s.stats.observeFrame(now, false)
	frame := Frame{Seq: seq, Timestamp: now, Data: out}
	if err != nil {
		warn := &IntegrityWarning{Seq: seq, Err: err}
		s.stats.observeError(warn)
		return frame, warn
	}
	return frame, nil
}

// Session describes the current or most recent recording.
func (c *Camera) Session() (SessionInfo, bool) {
	s := c.session.Load()
	if s == nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		ID:        s.id,
		Async:     s.async,
		StartedAt: s.startedAt,
		FrameRate: s.frameRate,
		FrameSize: s.ring.BlockSize(),
	}, true
}

// Stats returns delivery statistics for the current or most recent session.
func (c *Camera) Stats() StatsSnapshot {
	s := c.session.Load()
	if s == nil {
		return newStats(c.statsWindow).Snapshot()
	}
	return s.stats.Snapshot()
}

// Frames returns how many asynchronously produced frames are retrievable.
func (c *Camera) Frames() int {
	s := c.session.Load()
	if s == nil || !s.async {
		return 0
	}
	return s.ring.NumBlocksFilled()
}

// Frame returns a retained frame. Index 0 is the oldest.
func (c *Camera) Frame(index int) (Frame, error) {
	s := c.session.Load()
	if s == nil || !s.async {
		return Frame{}, fmt.Errorf("%w: index %d, no asynchronous session", ringbuffer.ErrOutOfRange, index)
	}
	slot, err := s.ring.Slot(index)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Seq:       s.seqs[slot].Load(),
		Timestamp: time.Unix(0, s.stamps[slot].Load()),
		Data:      s.ring.Block(slot),
	}, nil
}

// Latest returns the most recently committed frame.
func (c *Camera) Latest() (Frame, bool) {
	n := c.Frames()
	if n == 0 {
		return Frame{}, false
	}
	f, err := c.Frame(n - 1)
	return f, err == nil
}

// Close stops any acquisition and releases the backend. Calling Close more
// than once is safe.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.State() != StateIdle {
		errs = append(errs, c.stopLocked())
	}
	if err := c.backend.Close(); err != nil {
		opsf("close backend: %v", err)
		errs = append(errs, err)
	}
	diagf("closed")
	return errors.Join(errs...)
}
