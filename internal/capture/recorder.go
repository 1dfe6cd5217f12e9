package capture

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/areascan/internal/camera"
)

// Option configures a Recorder or Replayer.
type Option func(*options)

type options struct {
	port        uint16
	loop        bool
	maxFrameLen int
}

func newOptions(opts []Option) options {
	o := options{port: DefaultPort, maxFrameLen: DefaultMaxFrameLen}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPort sets the UDP port frames are written to or read from.
func WithPort(port uint16) Option {
	return func(o *options) { o.port = port }
}

// WithLoop makes a Replayer opened from a file start over at the end.
func WithLoop() Option {
	return func(o *options) { o.loop = true }
}

// WithMaxFrameLen sets the largest frame in bytes that is recorded or
// reassembled. Non-positive values keep DefaultMaxFrameLen.
func WithMaxFrameLen(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameLen = n
		}
	}
}

// Recorder writes frames to a pcap stream. It is safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	w           *pcapgo.Writer
	closer      io.Closer
	port        uint16
	maxFrameLen int
	buf         gopacket.SerializeBuffer
	chunk       []byte
	frames      uint64
	bytes       uint64
}

// NewRecorder writes the pcap file header to w.
func NewRecorder(w io.Writer, opts ...Option) (*Recorder, error) {
	o := newOptions(opts)
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	r := &Recorder{
		w:           pw,
		port:        o.port,
		maxFrameLen: o.maxFrameLen,
		buf:         gopacket.NewSerializeBuffer(),
		chunk:       make([]byte, headerSize+MaxChunk),
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r, nil
}

// Create records into a new file at path.
func Create(path string, opts ...Option) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRecorder(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	diagf("recording to %s", path)
	return r, nil
}

// WriteFrame appends f as one datagram per MaxChunk bytes.
func (r *Recorder) WriteFrame(f camera.Frame) error {
	if len(f.Data) > r.maxFrameLen {
		return fmt.Errorf("%w: frame %d is %d bytes, limit %d", ErrFrameTooLarge, f.Seq, len(f.Data), r.maxFrameLen)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	h := chunkHeader{Seq: f.Seq, FrameLen: uint32(len(f.Data)), Timestamp: f.Timestamp}
	for off := 0; off == 0 || off < len(f.Data); off += MaxChunk {
		end := min(off+MaxChunk, len(f.Data))
		h.Offset = uint32(off)
		h.put(r.chunk)
		n := headerSize + copy(r.chunk[headerSize:], f.Data[off:end])
		if err := r.writeDatagram(r.chunk[:n], f); err != nil {
			return fmt.Errorf("frame %d offset %d: %w", f.Seq, off, err)
		}
	}
	r.frames++
	r.bytes += uint64(len(f.Data))
	tracef("frame %d: %d bytes", f.Seq, len(f.Data))
	return nil
}

func (r *Recorder) writeDatagram(payload []byte, f camera.Frame) error {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(r.port - 1), DstPort: layers.UDPPort(r.port)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(r.buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return err
	}
	data := r.buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: f.Timestamp, CaptureLength: len(data), Length: len(data)}
	return r.w.WritePacket(ci, data)
}

// Handle records f and logs failures. It matches camera.WithFrameHandler.
func (r *Recorder) Handle(f camera.Frame) {
	if err := r.WriteFrame(f); err != nil {
		opsf("record frame %d: %v", f.Seq, err)
	}
}

// Frames returns how many frames have been written.
func (r *Recorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close closes the underlying writer if it is a Closer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	diagf("closing after %d frames, %d bytes", r.frames, r.bytes)
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
