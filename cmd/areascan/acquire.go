package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/areascan/internal/camera"
	"github.com/banshee-data/areascan/internal/db"
	"github.com/banshee-data/areascan/internal/timeutil"
)

const defaultPollInterval = 20 * time.Millisecond

// acquisition runs one recording session on a camera and journals it.
type acquisition struct {
	cam     *camera.Camera
	backend string
	journal *db.DB // nil disables journalling
	clock   timeutil.Clock
	poll    time.Duration

	// onFrame sees every synchronously grabbed frame. Asynchronous frames
	// reach the camera's frame handler instead.
	onFrame func(camera.Frame)
	// onState follows camera state transitions.
	onState func(camera.State)
}

// result summarises a finished session.
type result struct {
	Session  camera.SessionInfo
	Stats    camera.StatsSnapshot
	Consumed uint64
	Gaps     camera.GapDetector
}

func (a *acquisition) notify() {
	if a.onState != nil {
		a.onState(a.cam.State())
	}
}

// run records until frames have been consumed, d has elapsed or ctx is done.
// Zero frames or a zero duration means no limit on that axis.
func (a *acquisition) run(ctx context.Context, async bool, frames int, d time.Duration) (result, error) {
	if err := a.cam.StartRecording(async); err != nil {
		a.notify()
		return result{}, err
	}
	a.notify()
	info, _ := a.cam.Session()
	log.Printf("session %s started: backend=%s async=%v frame=%d bytes", info.ID, a.backend, async, info.FrameSize)

	if a.journal != nil {
		if err := a.journal.RecordSessionStart(a.backend, info); err != nil {
			log.Printf("journal: %v", err)
		}
		if err := a.journal.RecordPropertySnapshot(info.ID, a.cam.Registry().Snapshot()); err != nil {
			log.Printf("journal: %v", err)
		}
	}

	var deadline <-chan time.Time
	if d > 0 {
		deadline = a.clock.After(d)
	}

	res := result{Session: info}
	var runErr error
	if async {
		runErr = a.consume(ctx, &res, frames, deadline)
	} else {
		runErr = a.grab(ctx, &res, frames, deadline)
	}

	stopErr := a.cam.StopRecording()
	a.notify()
	res.Stats = a.cam.Stats()
	if a.journal != nil {
		if err := a.journal.RecordSessionStop(info.ID, a.clock.Now(), res.Stats); err != nil {
			log.Printf("journal: %v", err)
		}
	}
	log.Printf("session %s stopped: consumed=%d delivered=%d overwritten=%d missed=%d errors=%d",
		info.ID, res.Consumed, res.Stats.Delivered, res.Stats.Overwritten, res.Gaps.Missing, res.Stats.Errors)
	if stopErr != nil {
		stopErr = fmt.Errorf("stop recording: %w", stopErr)
	}
	return res, errors.Join(runErr, stopErr)
}

// consume drains the ring every poll interval and records the frames that
// were overwritten before they were read.
func (a *acquisition) consume(ctx context.Context, res *result, frames int, deadline <-chan time.Time) error {
	var next uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-a.clock.After(a.poll):
		}

		n := a.cam.Frames()
		for i := 0; i < n; i++ {
			f, err := a.cam.Frame(i)
			if err != nil {
				break
			}
			if res.Consumed > 0 && f.Seq < next {
				continue
			}
			if missed := res.Gaps.Observe(f.Seq); missed > 0 && a.journal != nil {
				if err := a.journal.RecordGap(res.Session.ID, f.Seq-missed-1, missed, f.Timestamp); err != nil {
					log.Printf("journal: %v", err)
				}
			}
			next = f.Seq + 1
			res.Consumed++
			if frames > 0 && res.Consumed >= uint64(frames) {
				return nil
			}
		}
	}
}

// grab pulls frames synchronously. Integrity warnings and event timeouts are
// logged and acquisition continues; any other fault ends the session.
func (a *acquisition) grab(ctx context.Context, res *result, frames int, deadline <-chan time.Time) error {
	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		default:
		}

		f, err := a.cam.Grab(buf)
		var warn *camera.IntegrityWarning
		switch {
		case errors.As(err, &warn):
			log.Printf("frame %d: %v", warn.Seq, warn)
		case errors.Is(err, camera.ErrEventTimeout):
			log.Printf("grab: %v", err)
			continue
		case err != nil:
			return fmt.Errorf("grab: %w", err)
		}
		buf = f.Data
		res.Gaps.Observe(f.Seq)
		res.Consumed++
		if a.onFrame != nil {
			a.onFrame(f)
		}
		if frames > 0 && res.Consumed >= uint64(frames) {
			return nil
		}
	}
}
