package camera

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/areascan/internal/ringbuffer"
	"github.com/banshee-data/areascan/internal/timeutil"
)

var errStreamStopped = errors.New("stream stopped")

// producer feeds the ring buffer of an asynchronous session.
type producer interface {
	start() error
	halt() error
}

// session holds the per-recording state shared by the camera and its
// producer. Per-slot metadata is atomic so consumers may read it while the
// producer advances.
type session struct {
	id        string
	async     bool
	startedAt time.Time
	frameRate float64
	ring      *ringbuffer.RingBuffer
	seqs      []atomic.Uint64
	stamps    []atomic.Int64
	stats     *Stats
}

// sessionDispatcher commits frames into a session's ring.
type sessionDispatcher struct {
	c *Camera
	s *session
}

func (d *sessionDispatcher) Dispatch(src []byte) (uint64, error) {
	dst := d.s.ring.CurrentPointer()
	if len(src) != len(dst) {
		err := fmt.Errorf("%w: frame of %d bytes, expected %d", ErrDataUnavailable, len(src), len(dst))
		d.Report(err)
		return 0, err
	}
	copy(dst, src)
	return d.commit(), nil
}

// commit publishes the block at the ring's write cursor.
func (d *sessionDispatcher) commit() uint64 {
	c, s := d.c, d.s
	slot := s.ring.CurrentSlot()
	seq := c.seq.Add(1) - 1
	now := c.clock.Now()
	s.seqs[slot].Store(seq)
	s.stamps[slot].Store(now.UnixNano())
	overwrote := s.ring.NumBlocksFilled() == s.ring.Capacity()
	s.ring.Proceed()

	s.stats.observeFrame(now, overwrote)
	tracef("session %s: frame %d in slot %d", s.id, seq, slot)
	if c.onFrame != nil {
		c.onFrame(Frame{Seq: seq, Timestamp: now, Data: s.ring.Block(slot)})
	}
	return seq
}

func (d *sessionDispatcher) Report(err error) {
	if err == nil {
		return
	}
	d.s.stats.observeError(err)
	var warn *IntegrityWarning
	if errors.As(err, &warn) {
		diagf("session %s: %v", d.s.id, err)
	} else {
		opsf("session %s: %v", d.s.id, err)
	}
	if d.c.onError != nil {
		d.c.onError(err)
	}
}

// pollingProducer drives a backend without an event source by calling Grab
// at the session frame rate.
type pollingProducer struct {
	grab     func([]byte) ([]byte, error)
	d        *sessionDispatcher
	clock    timeutil.Clock
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func newPollingProducer(b Backend, d *sessionDispatcher, clock timeutil.Clock, rate float64) *pollingProducer {
	return &pollingProducer{
		grab:     b.Grab,
		d:        d,
		clock:    clock,
		interval: time.Duration(float64(time.Second) / rate),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *pollingProducer) start() error {
	go p.run()
	return nil
}

func (p *pollingProducer) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		p.step()
		select {
		case <-p.stop:
			return
		case <-p.clock.After(p.interval):
		}
	}
}

func (p *pollingProducer) step() {
	dst := p.d.s.ring.CurrentPointer()
	out, err := p.grab(dst)
	if err != nil && !errors.Is(err, ErrDataIntegrity) {
		p.d.Report(err)
		return
	}

	var seq uint64
	if len(out) == len(dst) && len(out) > 0 && &out[0] == &dst[0] {
		seq = p.d.commit()
	} else {
		var derr error
		if seq, derr = p.d.Dispatch(out); derr != nil {
			return
		}
	}
	if err != nil {
		p.d.Report(&IntegrityWarning{Seq: seq, Err: err})
	}
}

func (p *pollingProducer) halt() error {
	close(p.stop)
	<-p.done
	return nil
}

// eventProducer subscribes to a backend's event stream. Deliveries pass
// through a gate so that none reach the ring once halt has returned.
type eventProducer struct {
	src EventSource
	d   *sessionDispatcher

	gate    sync.RWMutex
	stopped bool
	sub     Subscription
}

func (p *eventProducer) start() error {
	sub, err := p.src.Subscribe(p)
	if err != nil {
		return wrapKind(ErrStartRecording, err)
	}
	p.sub = sub
	return nil
}

func (p *eventProducer) Dispatch(src []byte) (uint64, error) {
	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.stopped {
		return 0, errStreamStopped
	}
	return p.d.Dispatch(src)
}

func (p *eventProducer) Report(err error) {
	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.stopped {
		return
	}
	p.d.Report(err)
}

func (p *eventProducer) halt() error {
	p.gate.Lock()
	p.stopped = true
	p.gate.Unlock()
	if p.sub == nil {
		return nil
	}
	return p.sub.Cancel()
}
