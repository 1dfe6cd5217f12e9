package camera

// Backend is the capability set every camera variant implements.
//
// Backends never change acquisition state on their own; Camera drives every
// transition and only calls StartRecording, StopRecording and Grab in the
// states where they are legal.
type Backend interface {
	PropertyHandler

	// Descriptors lists backend-specific properties beyond the common table.
	Descriptors() []Descriptor

	// StartRecording prepares the hardware to deliver frames. With async set
	// the backend will be driven either through EventSource or by a polling
	// loop calling Grab.
	StartRecording(async bool) error
	StopRecording() error

	// Grab fills buf with one frame and returns the filled slice. buf is
	// exactly one frame long. A frame returned together with an error
	// matching ErrDataIntegrity is still valid to read.
	Grab(buf []byte) ([]byte, error)

	// Close releases the hardware. It is called exactly once.
	Close() error
}

// Discoverer is implemented by backends that enumerate properties from the
// hardware when they open.
type Discoverer interface {
	Discovered() []Discovered
}

// Readouter is implemented by backends with on-board frame memory that can be
// read out after recording stops.
type Readouter interface {
	StartReadout() error
	StopReadout() error
}

// EventSource is implemented by backends whose transport pushes frames. A
// backend that is not an EventSource is driven by polling Grab.
type EventSource interface {
	Subscribe(d Dispatcher) (Subscription, error)
}

// Subscription is an active event stream. Cancel blocks until the backend
// has stopped calling the Dispatcher.
type Subscription interface {
	Cancel() error
}

// Dispatcher receives frames from an event-driven backend.
type Dispatcher interface {
	// Dispatch copies a complete frame into the ring buffer and returns its
	// sequence number. src is not retained.
	Dispatch(src []byte) (uint64, error)

	// Report passes an acquisition fault to the consumer without stopping
	// the stream.
	Report(err error)
}

// Pacer is implemented by backends that choose their own polling rate.
type Pacer interface {
	FrameRate() float64
}
