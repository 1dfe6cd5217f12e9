package serialmux

import (
	"fmt"
	"io"
)

// SerialPorter is the byte stream of a Camera Link serial channel, whether
// exposed by the frame grabber's clser device or a USB adapter.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortMode is the line setting of a control channel. Cameras power up
// at 9600 8N1 and some accept a faster rate after a baud command.
type SerialPortMode struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// String formats the mode the way camera manuals do, e.g. "9600 8N1".
func (m SerialPortMode) String() string {
	stop := 1
	if m.StopBits == TwoStopBits {
		stop = 2
	}
	return fmt.Sprintf("%d %d%s%d", m.BaudRate, m.DataBits, m.Parity, stop)
}

type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// String returns the single-letter parity code.
func (p Parity) String() string {
	switch p {
	case OddParity:
		return "O"
	case EvenParity:
		return "E"
	}
	return "N"
}

type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// DefaultBaudRate is the Camera Link power-on rate.
const DefaultBaudRate = 9600

// DefaultSerialPortMode returns the Camera Link power-on mode, 9600 8N1.
func DefaultSerialPortMode() *SerialPortMode {
	return &SerialPortMode{BaudRate: DefaultBaudRate, DataBits: 8}
}

// SerialPortFactory opens control channels. Tests substitute
// MockSerialPortFactory for RealSerialPortFactory.
type SerialPortFactory interface {
	Open(path string, mode *SerialPortMode) (SerialPorter, error)
}

// SerialPortOpener lets a function serve as a SerialPortFactory.
type SerialPortOpener func(path string, mode *SerialPortMode) (SerialPorter, error)

func (f SerialPortOpener) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	return f(path, mode)
}
