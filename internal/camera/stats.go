package camera

import (
	"errors"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const defaultIntervalWindow = 256

// Stats accumulates delivery counters and a bounded window of inter-frame
// intervals for the current session.
type Stats struct {
	mu sync.Mutex

	delivered   uint64
	overwritten uint64
	errs        uint64
	integrity   uint64

	started   time.Time
	last      time.Time
	intervals []float64 // seconds, circular
	next      int
	full      bool
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Delivered         uint64          `json:"delivered"`
	Overwritten       uint64          `json:"overwritten"`
	Errors            uint64          `json:"errors"`
	IntegrityWarnings uint64          `json:"integrity_warnings"`
	Started           time.Time       `json:"started"`
	MeanInterval      time.Duration   `json:"mean_interval"`
	StdDevInterval    time.Duration   `json:"stddev_interval"`
	FrameRate         float64         `json:"frame_rate"`
	Intervals         []time.Duration `json:"-"`
}

func newStats(window int) *Stats {
	if window <= 0 {
		window = defaultIntervalWindow
	}
	return &Stats{intervals: make([]float64, window)}
}

func (s *Stats) reset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered, s.overwritten, s.errs, s.integrity = 0, 0, 0, 0
	s.started = now
	s.last = time.Time{}
	s.next, s.full = 0, false
}

func (s *Stats) observeFrame(now time.Time, overwrote bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered++
	if overwrote {
		s.overwritten++
	}
	if !s.last.IsZero() {
		s.intervals[s.next] = now.Sub(s.last).Seconds()
		s.next++
		if s.next == len(s.intervals) {
			s.next, s.full = 0, true
		}
	}
	s.last = now
}

func (s *Stats) observeError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(err, ErrDataIntegrity) {
		s.integrity++
		return
	}
	s.errs++
}

// window returns the recorded intervals oldest first.
func (s *Stats) window() []float64 {
	if !s.full {
		return append([]float64(nil), s.intervals[:s.next]...)
	}
	out := make([]float64, 0, len(s.intervals))
	out = append(out, s.intervals[s.next:]...)
	return append(out, s.intervals[:s.next]...)
}

// Snapshot copies the counters and summarises the interval window.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatsSnapshot{
		Delivered:         s.delivered,
		Overwritten:       s.overwritten,
		Errors:            s.errs,
		IntegrityWarnings: s.integrity,
		Started:           s.started,
	}
	xs := s.window()
	snap.Intervals = make([]time.Duration, len(xs))
	for i, x := range xs {
		snap.Intervals[i] = seconds(x)
	}
	if len(xs) == 0 {
		return snap
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) < 2 {
		std = 0
	}
	snap.MeanInterval = seconds(mean)
	snap.StdDevInterval = seconds(std)
	if mean > 0 {
		snap.FrameRate = 1 / mean
	}
	return snap
}

func seconds(x float64) time.Duration {
	return time.Duration(x * float64(time.Second))
}

// GapDetector tracks frame sequence numbers seen by a consumer and counts the
// frames it never observed.
type GapDetector struct {
	next    uint64
	started bool

	Gaps    uint64
	Missing uint64
}

// Observe records seq and returns how many frames were skipped before it.
// Sequence numbers that go backwards restart tracking.
func (g *GapDetector) Observe(seq uint64) uint64 {
	var missed uint64
	if g.started && seq > g.next {
		missed = seq - g.next
		g.Gaps++
		g.Missing += missed
	}
	g.started = true
	g.next = seq + 1
	return missed
}
