package serialmux

import (
	"fmt"
	"maps"
	"sync"
)

// LineRecorder persists camera control traffic. The acquisition journal
// implements it.
type LineRecorder interface {
	RecordSerialLine(kind, line string) error
}

// State holds the latest key=value pairs reported by the camera so admin
// routes and the grabber backend can inspect them.
type State struct {
	mu     sync.RWMutex
	values map[string]string
	errors int
}

func NewState() *State {
	return &State{values: make(map[string]string)}
}

// Get returns the last reported value of key.
func (s *State) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Values returns a copy of every reported value.
func (s *State) Values() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Errors returns how many error replies have been seen.
func (s *State) Errors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errors
}

func (s *State) update(kind, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case ResponseValue:
		k, v, _ := ParseValueResponse(line)
		s.values[k] = v
	case ResponseError:
		s.errors++
	}
}

// HandleLine classifies a line from the camera, folds it into state and
// records it. Either of rec and state may be nil.
func HandleLine(rec LineRecorder, state *State, line string) error {
	kind := ClassifyResponse(line)
	switch kind {
	case ResponseEmpty:
		return nil
	case ResponseError:
		opsf("camera rejected command: %q", line)
	case ResponseUnknown:
		diagf("unrecognised line from camera: %q", line)
	}
	if state != nil {
		state.update(kind, line)
	}
	if rec == nil {
		return nil
	}
	if err := rec.RecordSerialLine(kind, line); err != nil {
		return fmt.Errorf("failed to record %s line: %w", kind, err)
	}
	return nil
}

// Consume feeds every line from a subscription into HandleLine until the
// channel is closed. Record failures are logged and do not stop consumption.
func Consume(rec LineRecorder, state *State, lines <-chan string) {
	for line := range lines {
		if err := HandleLine(rec, state, line); err != nil {
			opsf("%v", err)
		}
	}
}
