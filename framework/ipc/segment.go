package ipc

import (
	"encoding/binary"
	"errors"
	"sync"
)

// headerSize bytes at the start of every segment hold bytes_used as a
// little-endian uint64.
const headerSize = 8

// ErrSegmentUnsupported is returned where shared file segments cannot be
// mapped.
var ErrSegmentUnsupported = errors.New("ipc: shared file segments are not supported on this platform")

// Segment is a fixed-size region guarded by a lock that every producer and
// consumer of the region honours.
type Segment interface {
	// Capacity is the number of frame bytes the segment holds.
	Capacity() int
	Lock() error
	Unlock() error
	// Bytes is the whole region, header included. Only valid while locked.
	Bytes() []byte
	Close() error
}

func used(seg Segment) int {
	return int(binary.LittleEndian.Uint64(seg.Bytes()[:headerSize]))
}

func setUsed(seg Segment, n int) {
	binary.LittleEndian.PutUint64(seg.Bytes()[:headerSize], uint64(n))
}

func frames(seg Segment) []byte { return seg.Bytes()[headerSize:] }

// MemorySegment is an in-process Segment.
type MemorySegment struct {
	mu  sync.Mutex
	buf []byte
}

// NewMemorySegment allocates a segment holding capacity frame bytes.
func NewMemorySegment(capacity int) *MemorySegment {
	return &MemorySegment{buf: make([]byte, headerSize+capacity)}
}

func (s *MemorySegment) Capacity() int { return len(s.buf) - headerSize }
func (s *MemorySegment) Bytes() []byte { return s.buf }
func (s *MemorySegment) Close() error  { return nil }

func (s *MemorySegment) Lock() error {
	s.mu.Lock()
	return nil
}

func (s *MemorySegment) Unlock() error {
	s.mu.Unlock()
	return nil
}
