// Package capture records camera frames into pcap files and replays them.
// Each frame is split into UDP datagrams so recordings open in any packet
// tool, and a replayed file can stand in for a live camera.
package capture

import (
	"encoding/binary"
	"errors"
	"net"
	"time"
)

const (
	// DefaultPort is the UDP destination port frames are recorded to.
	DefaultPort = 50001

	// MaxChunk is the frame payload carried by one datagram.
	MaxChunk = 60000

	// DefaultMaxFrameLen bounds the frames a Recorder writes and a Replayer
	// reassembles. It holds a 16-bit 4096x4096 frame.
	DefaultMaxFrameLen = 32 << 20

	snapLen    = 65536
	headerSize = 28
	magic      = 0x4153434e // "ASCN"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	srcIP  = net.IPv4(10, 0, 0, 2).To4()
	dstIP  = net.IPv4(10, 0, 0, 1).To4()
)

var errShortHeader = errors.New("datagram shorter than chunk header")

// ErrFrameTooLarge is returned when a frame exceeds the maximum frame length.
var ErrFrameTooLarge = errors.New("frame exceeds maximum length")

// chunkHeader precedes every datagram payload.
type chunkHeader struct {
	Seq       uint64
	FrameLen  uint32
	Offset    uint32
	Timestamp time.Time
}

func (h chunkHeader) put(b []byte) {
	binary.BigEndian.PutUint32(b[0:], magic)
	binary.BigEndian.PutUint64(b[4:], h.Seq)
	binary.BigEndian.PutUint32(b[12:], h.FrameLen)
	binary.BigEndian.PutUint32(b[16:], h.Offset)
	binary.BigEndian.PutUint64(b[20:], uint64(h.Timestamp.UnixNano()))
}

// parseChunk splits a datagram into its header and frame bytes. ok is false
// for datagrams that were not written by a Recorder.
func parseChunk(b []byte) (h chunkHeader, data []byte, ok bool, err error) {
	if len(b) < headerSize {
		return h, nil, false, errShortHeader
	}
	if binary.BigEndian.Uint32(b) != magic {
		return h, nil, false, nil
	}
	h.Seq = binary.BigEndian.Uint64(b[4:])
	h.FrameLen = binary.BigEndian.Uint32(b[12:])
	h.Offset = binary.BigEndian.Uint32(b[16:])
	h.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(b[20:])))
	return h, b[headerSize:], true, nil
}
