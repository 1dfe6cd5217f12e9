// Package ringbuffer provides a fixed-capacity circular store of equal-sized
// byte blocks. It decouples a single frame producer from a consumer draining
// committed blocks: once more blocks have been committed than the buffer can
// hold, the oldest block is silently overwritten.
package ringbuffer

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

var (
	// ErrOutOfRange is returned when a block index does not refer to a
	// committed block that is still present.
	ErrOutOfRange = errors.New("ring buffer index out of range")

	// ErrAllocation is returned when the backing storage cannot be allocated.
	ErrAllocation = errors.New("ring buffer allocation failed")
)

// maxStorage bounds a single ring allocation (16 GiB).
const maxStorage = 16 << 30

// RingBuffer is a circular buffer of capacity blocks of blockSize bytes each.
//
// Only one goroutine may write (CurrentPointer + Proceed). Readers may access
// any committed block concurrently with the writer filling the next one, but
// must not read the block returned by CurrentPointer.
type RingBuffer struct {
	data      []byte
	blockSize int
	capacity  int

	// committed counts Proceed calls since construction or the last Reset.
	// The write cursor is committed % capacity.
	committed atomic.Uint64
}

// New allocates a ring of capacity contiguous blocks of blockSize bytes.
func New(blockSize, capacity int) (*RingBuffer, error) {
	if blockSize <= 0 || capacity <= 0 {
		return nil, fmt.Errorf("%w: block size %d, capacity %d", ErrAllocation, blockSize, capacity)
	}
	if blockSize > math.MaxInt/capacity || blockSize*capacity > maxStorage {
		return nil, fmt.Errorf("%w: %d x %d bytes exceeds limit", ErrAllocation, capacity, blockSize)
	}
	return &RingBuffer{
		data:      make([]byte, blockSize*capacity),
		blockSize: blockSize,
		capacity:  capacity,
	}, nil
}

// BlockSize returns the size of each block in bytes.
func (r *RingBuffer) BlockSize() int { return r.blockSize }

// Capacity returns the number of blocks.
func (r *RingBuffer) Capacity() int { return r.capacity }

// WritesCommitted returns the number of Proceed calls since the last Reset.
func (r *RingBuffer) WritesCommitted() uint64 { return r.committed.Load() }

func (r *RingBuffer) block(slot int) []byte {
	off := slot * r.blockSize
	return r.data[off : off+r.blockSize : off+r.blockSize]
}

// Block returns the storage of slot, which must be in [0, Capacity()).
func (r *RingBuffer) Block(slot int) []byte {
	return r.block(slot)
}

// CurrentSlot returns the slot designated for the next write.
func (r *RingBuffer) CurrentSlot() int {
	return int(r.committed.Load() % uint64(r.capacity))
}

// CurrentPointer returns the block designated for the next write.
func (r *RingBuffer) CurrentPointer() []byte {
	return r.block(r.CurrentSlot())
}

// Proceed commits the current block and advances the write cursor.
func (r *RingBuffer) Proceed() {
	r.committed.Add(1)
}

// NumBlocksFilled returns min(writes committed, capacity).
func (r *RingBuffer) NumBlocksFilled() int {
	n := r.committed.Load()
	if n > uint64(r.capacity) {
		return r.capacity
	}
	return int(n)
}

// Pointer returns the block written index writes after the oldest block still
// present in the ring. Index 0 is the oldest retrievable block and
// NumBlocksFilled()-1 the most recent one.
func (r *RingBuffer) Pointer(index int) ([]byte, error) {
	slot, err := r.Slot(index)
	if err != nil {
		return nil, err
	}
	return r.block(slot), nil
}

// Slot maps a logical index, as accepted by Pointer, to its storage slot.
func (r *RingBuffer) Slot(index int) (int, error) {
	committed := r.committed.Load()
	filled := committed
	if filled > uint64(r.capacity) {
		filled = uint64(r.capacity)
	}
	if index < 0 || uint64(index) >= filled {
		return 0, fmt.Errorf("%w: index %d, %d blocks filled", ErrOutOfRange, index, filled)
	}
	oldest := committed - filled
	return int((oldest + uint64(index)) % uint64(r.capacity)), nil
}

// Overwritten returns how many committed blocks have been clobbered by newer
// writes since the last Reset.
func (r *RingBuffer) Overwritten() uint64 {
	n := r.committed.Load()
	if n <= uint64(r.capacity) {
		return 0
	}
	return n - uint64(r.capacity)
}

// Reset forgets all committed blocks and rewinds the write cursor. The
// backing storage stays allocated.
func (r *RingBuffer) Reset() {
	r.committed.Store(0)
}
