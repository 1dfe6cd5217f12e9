package grabber

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Limits of the simulated sensor.
const (
	SimMaxWidth  = 2048
	SimMaxHeight = 2048

	simMinSize = 16
)

var (
	errNoSuchBoard   = errors.New("no such board")
	errNotAcquiring  = errors.New("port is not acquiring")
	errBoardClosed   = errors.New("board closed")
	errUnknownParam  = errors.New("unknown parameter")
	errParamRange    = errors.New("parameter out of range")
	errAlreadyActive = errors.New("acquisition already running")
)

type simPort struct {
	params    map[Param]uint32
	acquiring bool
	counter   uint32
	next      time.Time
	image     []byte
}

// SimBoard is an in-memory two-port frame grabber. Images are generated at
// ParamFramesPerSec in free-run and software trigger modes; in external
// trigger mode no image ever arrives. Every image starts with a
// little-endian uint32 counter.
type SimBoard struct {
	mu       sync.Mutex
	ports    [2]*simPort
	closed   bool
	closes   int
	waitErr  error
	paramErr map[Param]error
}

// NewSimBoard creates a board with a 1024x1024 8-bit camera on both ports.
func NewSimBoard() *SimBoard {
	b := &SimBoard{paramErr: make(map[Param]error)}
	for i := range b.ports {
		b.ports[i] = &simPort{params: map[Param]uint32{
			ParamWidth:        1024,
			ParamHeight:       1024,
			ParamXOffset:      0,
			ParamYOffset:      0,
			ParamExposure:     1000,
			ParamBitDepth:     8,
			ParamTriggerMode:  TriggerFreeRun,
			ParamFramesPerSec: 100,
		}}
	}
	return b
}

// SimDriver returns a Driver that creates one SimBoard per call and only
// knows board 0. configure, when not nil, runs on the new board.
func SimDriver(configure func(*SimBoard)) Driver {
	return func(applet string, board int) (Board, error) {
		if board != 0 {
			return nil, fmt.Errorf("%w: %d", errNoSuchBoard, board)
		}
		b := NewSimBoard()
		if configure != nil {
			configure(b)
		}
		return b, nil
	}
}

func (b *SimBoard) portLocked(port Port) (*simPort, error) {
	if b.closed {
		return nil, errBoardClosed
	}
	if int(port) >= len(b.ports) {
		return nil, fmt.Errorf("%w: port %s", errParamRange, port)
	}
	return b.ports[port], nil
}

func (b *SimBoard) SetParameter(p Param, value uint32, port Port) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.paramErr[p]; err != nil {
		return err
	}
	sp, err := b.portLocked(port)
	if err != nil {
		return err
	}
	if _, ok := sp.params[p]; !ok {
		return fmt.Errorf("%w: %s", errUnknownParam, p)
	}
	next := make(map[Param]uint32, len(sp.params))
	for k, v := range sp.params {
		next[k] = v
	}
	next[p] = value
	if err := validateSimParams(next); err != nil {
		return err
	}
	if sp.acquiring && p != ParamExposure && p != ParamTriggerMode && p != ParamFramesPerSec {
		return fmt.Errorf("%w: %s cannot change during acquisition", errAlreadyActive, p)
	}
	sp.params = next
	return nil
}

func validateSimParams(p map[Param]uint32) error {
	w, h := p[ParamWidth], p[ParamHeight]
	switch {
	case w < simMinSize || h < simMinSize:
		return fmt.Errorf("%w: %dx%d below %d", errParamRange, w, h, simMinSize)
	case uint64(p[ParamXOffset])+uint64(w) > SimMaxWidth:
		return fmt.Errorf("%w: x-offset %d + width %d", errParamRange, p[ParamXOffset], w)
	case uint64(p[ParamYOffset])+uint64(h) > SimMaxHeight:
		return fmt.Errorf("%w: y-offset %d + height %d", errParamRange, p[ParamYOffset], h)
	case p[ParamBitDepth] != 8 && p[ParamBitDepth] != 10 && p[ParamBitDepth] != 12 && p[ParamBitDepth] != 16:
		return fmt.Errorf("%w: bit depth %d", errParamRange, p[ParamBitDepth])
	case p[ParamTriggerMode] > TriggerExternal:
		return fmt.Errorf("%w: trigger mode %d", errParamRange, p[ParamTriggerMode])
	case p[ParamFramesPerSec] == 0:
		return fmt.Errorf("%w: frames per second 0", errParamRange)
	case p[ParamExposure] == 0:
		return fmt.Errorf("%w: exposure 0", errParamRange)
	}
	return nil
}

func (b *SimBoard) GetParameter(p Param, port Port) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.paramErr[p]; err != nil {
		return 0, err
	}
	sp, err := b.portLocked(port)
	if err != nil {
		return 0, err
	}
	v, ok := sp.params[p]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errUnknownParam, p)
	}
	return v, nil
}

func (b *SimBoard) Acquire(port Port) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sp, err := b.portLocked(port)
	if err != nil {
		return err
	}
	if sp.acquiring {
		return errAlreadyActive
	}
	sp.acquiring = true
	sp.next = time.Now()
	return nil
}

func (b *SimBoard) StopAcquire(port Port) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sp, err := b.portLocked(port)
	if err != nil {
		return err
	}
	sp.acquiring = false
	sp.image = nil
	return nil
}

// WaitImage sleeps until the next image is due, or for timeout when it would
// arrive later than that.
func (b *SimBoard) WaitImage(port Port, timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	if err := b.waitErr; err != nil {
		b.waitErr = nil
		b.mu.Unlock()
		return nil, err
	}
	sp, err := b.portLocked(port)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	if !sp.acquiring {
		b.mu.Unlock()
		return nil, errNotAcquiring
	}
	if sp.params[ParamTriggerMode] == TriggerExternal {
		b.mu.Unlock()
		time.Sleep(timeout)
		return nil, ErrImageTimeout
	}
	due := sp.next
	b.mu.Unlock()

	wait := time.Until(due)
	if wait > timeout {
		time.Sleep(timeout)
		return nil, ErrImageTimeout
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || !sp.acquiring {
		return nil, errNotAcquiring
	}
	period := time.Second / time.Duration(sp.params[ParamFramesPerSec])
	sp.next = due.Add(period)
	if now := time.Now(); sp.next.Before(now) {
		sp.next = now
	}
	sp.image = renderSimImage(sp.image, sp.params, sp.counter)
	sp.counter++
	return sp.image, nil
}

func renderSimImage(img []byte, p map[Param]uint32, counter uint32) []byte {
	w, h := int(p[ParamWidth]), int(p[ParamHeight])
	bpp := int((p[ParamBitDepth] + 7) / 8)
	size := w * h * bpp
	if cap(img) < size {
		img = make([]byte, size)
	}
	img = img[:size]
	x0, y0 := int(p[ParamXOffset]), int(p[ParamYOffset])
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint16((x0 + x + y0 + y) & 0xff)
			off := (y*w + x) * bpp
			if bpp == 1 {
				img[off] = byte(v)
				continue
			}
			binary.LittleEndian.PutUint16(img[off:], v<<(p[ParamBitDepth]-8))
		}
	}
	binary.LittleEndian.PutUint32(img, counter)
	return img
}

func (b *SimBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	b.closed = true
	return nil
}

// FailNextWait makes the next WaitImage return err.
func (b *SimBoard) FailNextWait(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waitErr = err
}

// SetParameterError makes every access to p fail with err; nil clears it.
func (b *SimBoard) SetParameterError(p Param, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.paramErr, p)
		return
	}
	b.paramErr[p] = err
}

// Acquiring reports whether port is acquiring.
func (b *SimBoard) Acquiring(port Port) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(port) < len(b.ports) && b.ports[port].acquiring
}

// Closes returns how many times Close was called.
func (b *SimBoard) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// ImageCounter reads the counter stamped into a SimBoard image.
func ImageCounter(img []byte) uint32 {
	return binary.LittleEndian.Uint32(img)
}
