package pcie

import (
	"time"

	"github.com/banshee-data/areascan/internal/camera"
)

// DefaultPath is the device node of the first FPGA board.
const DefaultPath = "/dev/fpga0"

// EventID identifies a frame event raised by the device.
type EventID uint64

// Register describes one entry of the device register map.
type Register struct {
	Name        string
	Mode        camera.RegisterMode
	Description string
}

// Device is the vendor boundary of an event-streaming PCIe camera.
//
// Data returns a view of device memory that stays valid until ReturnData is
// called for the same event. A nil view with an error wrapping
// camera.ErrDataUnavailable means the event carried no frame.
type Device interface {
	Registers() []Register
	ReadRegister(name string) (uint32, error)
	WriteRegister(name string, value uint32) error

	Start() error
	Stop() error
	Trigger() error
	NextEvent(timeout time.Duration) (EventID, error)
	Data(id EventID) ([]byte, error)
	ReturnData(id EventID) error

	// Stream calls fn on a device goroutine for every event until the
	// returned cancel function is called. cancel blocks until fn has
	// returned for the last time.
	Stream(fn func(EventID)) (cancel func() error, err error)

	Close() error
}

// Opener opens the device at path.
type Opener func(path string) (Device, error)
