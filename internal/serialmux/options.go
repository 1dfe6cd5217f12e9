package serialmux

import (
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial"
)

// CameraLinkBaudRates are the rates a Camera Link serial channel may run at.
var CameraLinkBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

var parityCodes = map[string]Parity{
	"N": NoParity, "NONE": NoParity,
	"O": OddParity, "ODD": OddParity,
	"E": EvenParity, "EVEN": EvenParity,
}

// PortOptions is the control channel setting as written in the acquisition
// config. Zero fields take the Camera Link power-on values.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize fills unset fields and rejects settings a Camera Link channel
// cannot carry. Parity comes back as a single letter.
func (o PortOptions) Normalize() (PortOptions, error) {
	n := o
	if n.BaudRate <= 0 {
		n.BaudRate = DefaultBaudRate
	}
	if !slices.Contains(CameraLinkBaudRates, n.BaudRate) {
		return n, fmt.Errorf("baud rate %d is not a Camera Link rate %v", n.BaudRate, CameraLinkBaudRates)
	}
	if n.DataBits == 0 {
		n.DataBits = 8
	}
	if n.DataBits < 5 || n.DataBits > 8 {
		return n, fmt.Errorf("invalid data bits %d: must be between 5 and 8", n.DataBits)
	}
	if n.StopBits == 0 {
		n.StopBits = 1
	}
	if n.StopBits != 1 && n.StopBits != 2 {
		return n, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", n.StopBits)
	}

	code := strings.ToUpper(strings.TrimSpace(n.Parity))
	if code == "" {
		code = "N"
	}
	p, ok := parityCodes[code]
	if !ok {
		return n, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	n.Parity = p.String()
	return n, nil
}

// Equal reports whether both options open the channel with the same line
// setting. Invalid options are never equal.
func (o PortOptions) Equal(other PortOptions) bool {
	a, errA := o.Normalize()
	b, errB := other.Normalize()
	return errA == nil && errB == nil && a == b
}

// Mode converts the options into the mode handed to a SerialPortFactory.
func (o PortOptions) Mode() (*SerialPortMode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &SerialPortMode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		Parity:   parityCodes[n.Parity],
	}
	if n.StopBits == 2 {
		mode.StopBits = TwoStopBits
	}
	return mode, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	mode, err := o.Mode()
	if err != nil {
		return nil, err
	}
	return serialMode(mode), nil
}
