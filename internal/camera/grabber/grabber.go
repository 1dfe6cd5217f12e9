// Package grabber implements the camera backend for frame-grabber boards.
// Camera properties pass straight through to board parameters on one port;
// the board buffers frames itself and Grab copies out the next one. Cameras
// that are configured over the Camera Link serial channel can be given a
// control link, exposed as a command/response property pair.
package grabber

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/areascan/internal/camera"
)

const (
	PropCameraCommand  = "camera-command"
	PropCameraResponse = "camera-response"

	DefaultTimeout      = time.Second
	DefaultMaxFrameRate = 1000.0
)

// ControlLink is the serial channel to the camera head. serialmux.SerialMux
// satisfies it; Monitor must run for responses to arrive.
type ControlLink interface {
	SendCommand(command string) error
	Subscribe() (string, chan string)
	Unsubscribe(id string)
}

// Option configures a Backend.
type Option func(*Backend)

// WithPort selects the board connector the camera is attached to.
func WithPort(p Port) Option {
	return func(b *Backend) { b.port = p }
}

// WithTimeout bounds a single WaitImage.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.timeout = d }
}

// WithMaxFrameRate sets the reported frame rate ceiling.
func WithMaxFrameRate(fps float32) Option {
	return func(b *Backend) { b.maxFrameRate = fps }
}

// WithControlLink attaches the Camera Link serial channel.
func WithControlLink(l ControlLink) Option {
	return func(b *Backend) { b.link = l }
}

// Backend drives one port of a Board.
type Backend struct {
	board        Board
	port         Port
	timeout      time.Duration
	maxFrameRate float32

	link     ControlLink
	linkID   string
	linkDone chan struct{}

	mu        sync.Mutex
	recording bool
	response  string
}

// Open initialises board number board through driver. The board is closed
// again if it does not answer parameter reads.
func Open(driver Driver, applet string, board int, opts ...Option) (*Backend, error) {
	if applet == "" {
		applet = DefaultApplet
	}
	bd, err := driver(applet, board)
	if err != nil {
		return nil, fmt.Errorf("%w: board %d applet %s: %w", camera.ErrInitialization, board, applet, err)
	}
	b, err := New(bd, opts...)
	if err != nil {
		return nil, errors.Join(err, bd.Close())
	}
	diagf("opened board %d port %s with %s", board, b.port, applet)
	return b, nil
}

// New wraps an initialised board.
func New(board Board, opts ...Option) (*Backend, error) {
	b := &Backend{
		board:        board,
		port:         PortA,
		timeout:      DefaultTimeout,
		maxFrameRate: DefaultMaxFrameRate,
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, p := range []Param{ParamWidth, ParamHeight, ParamBitDepth} {
		v, err := board.GetParameter(p, b.port)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s on port %s: %w", camera.ErrInitialization, p, b.port, err)
		}
		if v == 0 {
			return nil, fmt.Errorf("%w: board reports %s 0", camera.ErrInitialization, p)
		}
	}
	if b.link != nil {
		b.watchLink()
	}
	return b, nil
}

// watchLink keeps the most recent line from the camera head.
func (b *Backend) watchLink() {
	id, ch := b.link.Subscribe()
	b.linkID = id
	b.linkDone = make(chan struct{})
	go func() {
		defer close(b.linkDone)
		for line := range ch {
			b.mu.Lock()
			b.response = line
			b.mu.Unlock()
		}
	}()
}

func (b *Backend) Descriptors() []camera.Descriptor {
	d := []camera.Descriptor{{
		Name:   camera.PropFrameRate,
		Blurb:  "Frame rate programmed into the board",
		Kind:   camera.KindFloat,
		Access: camera.AccessReadWrite,
	}}
	if b.link != nil {
		d = append(d,
			camera.Descriptor{Name: PropCameraCommand, Blurb: "Send a command over the Camera Link serial channel", Kind: camera.KindString, Access: camera.AccessWrite},
			camera.Descriptor{Name: PropCameraResponse, Blurb: "Last line received from the camera head", Kind: camera.KindString, Access: camera.AccessRead},
		)
	}
	return d
}

// geometry maps properties onto board parameters that change the frame
// layout.
var geometry = map[string]Param{
	camera.PropSensorWidth:    ParamWidth,
	camera.PropSensorHeight:   ParamHeight,
	camera.PropROIWidth:       ParamWidth,
	camera.PropROIHeight:      ParamHeight,
	camera.PropROIX:           ParamXOffset,
	camera.PropROIY:           ParamYOffset,
	camera.PropSensorBitdepth: ParamBitDepth,
}

var triggerModes = map[string]uint32{
	camera.TriggerAuto:     TriggerFreeRun,
	camera.TriggerSoftware: TriggerSoftware,
	camera.TriggerExternal: TriggerExternal,
}

func (b *Backend) get(p Param) (uint32, error) {
	v, err := b.board.GetParameter(p, b.port)
	if err != nil {
		return 0, fmt.Errorf("%w: get %s: %w", camera.ErrInvalidProperty, p, err)
	}
	return v, nil
}

func (b *Backend) set(p Param, v uint32) error {
	if err := b.board.SetParameter(p, v, b.port); err != nil {
		return fmt.Errorf("%w: set %s=%d: %w", camera.ErrInvalidProperty, p, v, err)
	}
	diagf("port %s: %s=%d", b.port, p, v)
	return nil
}

func (b *Backend) GetProperty(name string) (camera.Value, error) {
	if p, ok := geometry[name]; ok {
		v, err := b.get(p)
		if err != nil {
			return camera.Value{}, err
		}
		return camera.Uint(uint64(v)), nil
	}
	switch name {
	case camera.PropName:
		return camera.String("grabber"), nil
	case camera.PropExposureTime:
		us, err := b.get(ParamExposure)
		if err != nil {
			return camera.Value{}, err
		}
		return camera.Double(float64(us) / 1e6), nil
	case camera.PropTriggerMode:
		v, err := b.get(ParamTriggerMode)
		if err != nil {
			return camera.Value{}, err
		}
		for mode, raw := range triggerModes {
			if raw == v {
				return camera.String(mode), nil
			}
		}
		return camera.Value{}, fmt.Errorf("%w: board trigger mode %d", camera.ErrInvalidProperty, v)
	case camera.PropFrameRate:
		v, err := b.get(ParamFramesPerSec)
		if err != nil {
			return camera.Value{}, err
		}
		return camera.Float(float32(v)), nil
	case camera.PropMaxFrameRate:
		return camera.Float(b.maxFrameRate), nil
	case camera.PropSensorHorizontalBinning, camera.PropSensorVerticalBinning:
		return camera.Uint(1), nil
	case camera.PropSensorHorizontalBinnings, camera.PropSensorVerticalBinnings:
		return camera.UintArray(1), nil
	case camera.PropROIWidthMultiplier, camera.PropROIHeightMultiplier:
		return camera.Uint(1), nil
	case camera.PropHasStreaming:
		return camera.Bool(true), nil
	case camera.PropHasCamRAMRecording:
		return camera.Bool(false), nil
	case PropCameraResponse:
		if b.link == nil {
			break
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		return camera.String(b.response), nil
	}
	return camera.Value{}, fmt.Errorf("%w: %s", camera.ErrNotImplemented, name)
}

func (b *Backend) SetProperty(name string, v camera.Value) error {
	if p, ok := geometry[name]; ok {
		if b.isRecording() {
			return fmt.Errorf("%w: %s is fixed while recording", camera.ErrInvalidState, name)
		}
		if v.Uint() > math.MaxUint32 {
			return fmt.Errorf("%w: %s %d out of range", camera.ErrInvalidProperty, name, v.Uint())
		}
		return b.set(p, uint32(v.Uint()))
	}
	switch name {
	case camera.PropExposureTime:
		us := math.Round(v.Double() * 1e6)
		if us < 1 || us > math.MaxUint32 {
			return fmt.Errorf("%w: exposure %v s", camera.ErrInvalidProperty, v.Double())
		}
		return b.set(ParamExposure, uint32(us))
	case camera.PropTriggerMode:
		raw, ok := triggerModes[v.Str()]
		if !ok {
			return fmt.Errorf("%w: trigger mode %q", camera.ErrInvalidProperty, v.Str())
		}
		return b.set(ParamTriggerMode, raw)
	case camera.PropFrameRate:
		fps := v.Float()
		if fps < 1 || fps > b.maxFrameRate {
			return fmt.Errorf("%w: frame rate %v outside [1, %v]", camera.ErrInvalidProperty, fps, b.maxFrameRate)
		}
		return b.set(ParamFramesPerSec, uint32(math.Round(float64(fps))))
	case camera.PropSensorHorizontalBinning, camera.PropSensorVerticalBinning:
		if v.Uint() != 1 {
			return fmt.Errorf("%w: %s %d unsupported", camera.ErrInvalidProperty, name, v.Uint())
		}
		return nil
	case PropCameraCommand:
		if b.link == nil {
			break
		}
		if err := b.link.SendCommand(v.Str()); err != nil {
			return fmt.Errorf("%w: camera command %q: %w", camera.ErrInvalidProperty, v.Str(), err)
		}
		tracef("camera command %q", v.Str())
		return nil
	}
	return fmt.Errorf("%w: %s", camera.ErrNotImplemented, name)
}

func (b *Backend) isRecording() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recording
}

// StartRecording arms acquisition on the port. The board buffers frames
// itself, so synchronous and asynchronous recording start the same way.
func (b *Backend) StartRecording(async bool) error {
	if err := b.board.Acquire(b.port); err != nil {
		return fmt.Errorf("acquire port %s: %w", b.port, err)
	}
	b.mu.Lock()
	b.recording = true
	b.mu.Unlock()
	return nil
}

func (b *Backend) StopRecording() error {
	b.mu.Lock()
	b.recording = false
	b.mu.Unlock()
	if err := b.board.StopAcquire(b.port); err != nil {
		return fmt.Errorf("stop acquire port %s: %w", b.port, err)
	}
	return nil
}

// frameSize reads the current geometry from the board.
func (b *Backend) frameSize() (int, error) {
	var dims [3]uint32
	for i, p := range []Param{ParamWidth, ParamHeight, ParamBitDepth} {
		v, err := b.board.GetParameter(p, b.port)
		if err != nil {
			return 0, fmt.Errorf("%w: read %s: %w", camera.ErrDataUnavailable, p, err)
		}
		dims[i] = v
	}
	return int(dims[0]) * int(dims[1]) * int((dims[2]+7)/8), nil
}

// Grab waits for the next image on the port and copies it into buf.
func (b *Backend) Grab(buf []byte) ([]byte, error) {
	size, err := b.frameSize()
	if err != nil {
		return nil, err
	}
	img, err := b.board.WaitImage(b.port, b.timeout)
	switch {
	case errors.Is(err, ErrImageTimeout):
		return nil, fmt.Errorf("%w: port %s after %v", camera.ErrEventTimeout, b.port, b.timeout)
	case err != nil:
		return nil, fmt.Errorf("%w: port %s: %w", camera.ErrDataUnavailable, b.port, err)
	case len(img) != size:
		return nil, fmt.Errorf("%w: image of %d bytes, want %d", camera.ErrDataUnavailable, len(img), size)
	}
	if len(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	copy(buf, img)
	tracef("port %s: image of %d bytes", b.port, size)
	return buf, nil
}

// Close detaches the control link and releases the board. The link itself
// belongs to the caller.
func (b *Backend) Close() error {
	if b.link != nil {
		b.link.Unsubscribe(b.linkID)
		<-b.linkDone
	}
	return b.board.Close()
}
