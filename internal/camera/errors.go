package camera

import (
	"errors"
	"fmt"

	"github.com/banshee-data/areascan/internal/ringbuffer"
)

// Error kinds shared by every backend. Backends wrap these with %w so callers
// can classify failures with errors.Is.
var (
	ErrInitialization  = errors.New("camera initialization failed")
	ErrStartRecording  = errors.New("could not start recording")
	ErrStopRecording   = errors.New("could not stop recording")
	ErrTrigger         = errors.New("could not trigger frame")
	ErrEventTimeout    = errors.New("no event within timeout")
	ErrDataUnavailable = errors.New("no data transmitted")
	ErrDataIntegrity   = errors.New("data possibly corrupted")
	ErrNotImplemented  = errors.New("not implemented")
	ErrInvalidProperty = errors.New("invalid property")
	ErrAccessViolation = errors.New("property access violation")
	ErrInvalidState    = errors.New("invalid acquisition state")

	ErrAllocation = ringbuffer.ErrAllocation
)

// IntegrityWarning reports that a frame was delivered but the transport could
// not confirm its integrity. The frame itself remains valid to read.
type IntegrityWarning struct {
	Seq uint64
	Err error
}

func (w *IntegrityWarning) Error() string {
	if w.Err == nil {
		return fmt.Sprintf("frame %d: %v", w.Seq, ErrDataIntegrity)
	}
	return fmt.Sprintf("frame %d: %v", w.Seq, w.Err)
}

func (w *IntegrityWarning) Unwrap() []error {
	return []error{ErrDataIntegrity, w.Err}
}

// wrapKind attaches kind to err unless err already carries it.
func wrapKind(kind, err error) error {
	if err == nil || errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
