//go:build !unix

package ipc

// FileSegment is unavailable on this platform.
type FileSegment struct {
	MemorySegment
}

// OpenFileSegment always fails on this platform; use in-process workers.
func OpenFileSegment(path string, capacity int) (*FileSegment, error) {
	return nil, ErrSegmentUnsupported
}
