package capture

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/areascan/internal/camera"
)

// ErrEmpty is returned by a looping Replayer whose file holds no frames.
var ErrEmpty = errors.New("capture holds no complete frames")

// Replayer reassembles frames from a pcap stream written by a Recorder.
// It is not safe for concurrent use.
type Replayer struct {
	r           io.Reader
	src         *gopacket.PacketSource
	port        uint16
	loop        bool
	maxFrameLen int
	closer      io.Closer

	// partial is the frame being reassembled; head carries its sequence
	// number and timestamp.
	partial  []byte
	head     camera.Frame
	received int

	// skip is the sequence number of a frame already counted incomplete
	// whose remaining datagrams are ignored.
	skip     uint64
	skipping bool

	frames     uint64
	incomplete uint64
	loops      int
	sinceLoop  uint64
}

// NewReplayer reads the pcap header from r. WithLoop needs r to be an
// io.Seeker.
func NewReplayer(r io.Reader, opts ...Option) (*Replayer, error) {
	o := newOptions(opts)
	p := &Replayer{r: r, port: o.port, loop: o.loop, maxFrameLen: o.maxFrameLen}
	if o.loop {
		if _, ok := r.(io.Seeker); !ok {
			return nil, fmt.Errorf("loop replay needs a seekable reader")
		}
	}
	if err := p.reset(); err != nil {
		return nil, err
	}
	return p, nil
}

// Open replays the file at path.
func Open(path string, opts ...Option) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	p, err := NewReplayer(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.closer = f
	diagf("replaying %s", path)
	return p, nil
}

func (p *Replayer) reset() error {
	pr, err := pcapgo.NewReader(p.r)
	if err != nil {
		return fmt.Errorf("read pcap header: %w", err)
	}
	p.src = gopacket.NewPacketSource(pr, pr.LinkType())
	p.partial = nil
	return nil
}

func (p *Replayer) rewind() error {
	if p.sinceLoop == 0 {
		return ErrEmpty
	}
	if _, err := p.r.(io.Seeker).Seek(0, io.SeekStart); err != nil {
		return err
	}
	p.loops++
	p.sinceLoop = 0
	return p.reset()
}

// Next returns the next complete frame, or io.EOF at the end of the stream.
// Frames missing a datagram are skipped and counted.
func (p *Replayer) Next() (camera.Frame, error) {
	for {
		packet, err := p.src.NextPacket()
		if errors.Is(err, io.EOF) {
			p.dropPartial()
			if !p.loop {
				return camera.Frame{}, io.EOF
			}
			if err := p.rewind(); err != nil {
				return camera.Frame{}, err
			}
			continue
		}
		if err != nil {
			return camera.Frame{}, err
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || uint16(udp.DstPort) != p.port {
			continue
		}
		h, data, ok, err := parseChunk(udp.Payload)
		if err != nil || !ok {
			continue
		}
		if f, done := p.add(h, data); done {
			return f, nil
		}
	}
}

func (p *Replayer) add(h chunkHeader, data []byte) (camera.Frame, bool) {
	if p.partial != nil && h.Seq != p.head.Seq {
		p.dropPartial()
	}
	if p.partial == nil {
		if h.Offset != 0 {
			if !p.skipping || p.skip != h.Seq {
				p.incomplete++
				p.skip, p.skipping = h.Seq, true
				diagf("frame %d: first datagram missing", h.Seq)
			}
			return camera.Frame{}, false
		}
		if uint64(h.FrameLen) > uint64(p.maxFrameLen) {
			if !p.skipping || p.skip != h.Seq {
				p.incomplete++
				p.skip, p.skipping = h.Seq, true
				diagf("frame %d: %d bytes exceeds limit %d", h.Seq, h.FrameLen, p.maxFrameLen)
			}
			return camera.Frame{}, false
		}
		p.partial = make([]byte, h.FrameLen)
		p.head = camera.Frame{Seq: h.Seq, Timestamp: h.Timestamp}
		p.received = 0
	}
	if uint64(h.Offset) != uint64(p.received) || p.received+len(data) > len(p.partial) {
		p.dropPartial()
		return camera.Frame{}, false
	}
	p.received += copy(p.partial[h.Offset:], data)
	if p.received < len(p.partial) {
		return camera.Frame{}, false
	}

	f := p.head
	f.Data = p.partial
	p.partial = nil
	p.frames++
	p.sinceLoop++
	tracef("replayed frame %d: %d bytes", f.Seq, len(f.Data))
	return f, true
}

func (p *Replayer) dropPartial() {
	if p.partial == nil {
		return
	}
	p.incomplete++
	p.skip, p.skipping = p.head.Seq, true
	diagf("frame %d incomplete: %d of %d bytes", p.head.Seq, p.received, len(p.partial))
	p.partial = nil
}

// NextFrame returns the payload of the next frame. It lets a Replayer feed
// a simulated device.
func (p *Replayer) NextFrame() ([]byte, error) {
	f, err := p.Next()
	if err != nil {
		return nil, err
	}
	return f.Data, nil
}

// Frames returns how many complete frames have been replayed.
func (p *Replayer) Frames() uint64 { return p.frames }

// Incomplete returns how many frames were skipped for missing datagrams or
// for exceeding the maximum frame length.
func (p *Replayer) Incomplete() uint64 { return p.incomplete }

// Loops returns how many times a looping Replayer has started over.
func (p *Replayer) Loops() int { return p.loops }

// Close closes the file opened by Open.
func (p *Replayer) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
