package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// RealSerialPortFactory opens ports through go.bug.st/serial.
type RealSerialPortFactory struct{}

// Open opens the device at path. A nil mode means DefaultSerialPortMode.
func (RealSerialPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	if mode == nil {
		mode = DefaultSerialPortMode()
	}
	port, err := serial.Open(path, serialMode(mode))
	if err != nil {
		return nil, err
	}
	return port, nil
}

func serialMode(mode *SerialPortMode) *serial.Mode {
	m := &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch mode.Parity {
	case OddParity:
		m.Parity = serial.OddParity
	case EvenParity:
		m.Parity = serial.EvenParity
	}
	if mode.StopBits == TwoStopBits {
		m.StopBits = serial.TwoStopBits
	}
	return m
}

// OpenSerialMux opens path through factory with the normalised opts.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	port, err := factory.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open control link %s at %s: %w", path, mode, err)
	}
	diagf("control link %s open at %s", path, mode)
	return NewSerialMux(port), nil
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(RealSerialPortFactory{}, path, opts)
}
