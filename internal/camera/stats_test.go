package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStats_Snapshot(t *testing.T) {
	s := newStats(4)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.reset(start)

	snap := s.Snapshot()
	assert.Zero(t, snap.Delivered)
	assert.Zero(t, snap.FrameRate)

	s.observeFrame(start, false)
	s.observeFrame(start.Add(10*time.Millisecond), false)
	snap = s.Snapshot()
	assert.Equal(t, uint64(2), snap.Delivered)
	assert.Equal(t, 10*time.Millisecond, snap.MeanInterval.Round(time.Microsecond))
	assert.Zero(t, snap.StdDevInterval)

	s.observeFrame(start.Add(30*time.Millisecond), true)
	snap = s.Snapshot()
	assert.Equal(t, uint64(1), snap.Overwritten)
	assert.Equal(t, 15*time.Millisecond, snap.MeanInterval.Round(time.Microsecond))
	assert.InDelta(t, 1000.0/15, snap.FrameRate, 0.01)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, roundAll(snap.Intervals))
}

func TestStats_WindowWraps(t *testing.T) {
	s := newStats(3)
	start := time.Unix(0, 0)
	s.reset(start)

	at := start
	for _, d := range []time.Duration{0, 1, 2, 3, 4, 5} {
		at = at.Add(d * time.Millisecond)
		s.observeFrame(at, false)
	}
	want := []time.Duration{3 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond}
	assert.Equal(t, want, roundAll(s.Snapshot().Intervals))
}

func TestStats_Errors(t *testing.T) {
	s := newStats(0)
	s.observeError(ErrEventTimeout)
	s.observeError(&IntegrityWarning{Seq: 3})
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Errors)
	assert.Equal(t, uint64(1), snap.IntegrityWarnings)
}

func roundAll(ds []time.Duration) []time.Duration {
	out := make([]time.Duration, len(ds))
	for i, d := range ds {
		out[i] = d.Round(time.Microsecond)
	}
	return out
}
