package grabber

import (
	"errors"
	"fmt"
	"time"
)

// DefaultApplet is the acquisition applet loaded for 8-bit area-scan cameras.
const DefaultApplet = "libFullAreaGray8.so"

// Port selects one of the camera connectors of a board.
type Port uint8

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	switch p {
	case PortA:
		return "A"
	case PortB:
		return "B"
	}
	return fmt.Sprintf("Port(%d)", uint8(p))
}

// Param identifies a board acquisition parameter.
type Param uint16

const (
	ParamWidth Param = iota + 1
	ParamHeight
	ParamXOffset
	ParamYOffset
	// ParamExposure is in microseconds.
	ParamExposure
	ParamBitDepth
	ParamTriggerMode
	ParamFramesPerSec
)

func (p Param) String() string {
	switch p {
	case ParamWidth:
		return "width"
	case ParamHeight:
		return "height"
	case ParamXOffset:
		return "x-offset"
	case ParamYOffset:
		return "y-offset"
	case ParamExposure:
		return "exposure"
	case ParamBitDepth:
		return "bit-depth"
	case ParamTriggerMode:
		return "trigger-mode"
	case ParamFramesPerSec:
		return "frames-per-sec"
	}
	return fmt.Sprintf("Param(%d)", uint16(p))
}

// Values of ParamTriggerMode.
const (
	TriggerFreeRun uint32 = iota
	TriggerSoftware
	TriggerExternal
)

// ErrImageTimeout is returned by Board.WaitImage when no image arrived in
// time.
var ErrImageTimeout = errors.New("grabber: image wait timed out")

// Board is the vendor boundary of a frame-grabber card.
//
// WaitImage returns a view of board memory that stays valid until the next
// WaitImage or StopAcquire on the same port.
type Board interface {
	SetParameter(p Param, value uint32, port Port) error
	GetParameter(p Param, port Port) (uint32, error)
	Acquire(port Port) error
	StopAcquire(port Port) error
	WaitImage(port Port, timeout time.Duration) ([]byte, error)
	Close() error
}

// Driver initialises board number board with the named applet.
type Driver func(applet string, board int) (Board, error)
