//go:build unix

package ipc

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// FileSegment is a Segment backed by a shared memory-mapped file. The lock
// combines flock, which excludes other processes, with a mutex, which
// excludes goroutines sharing this mapping.
type FileSegment struct {
	mu   sync.Mutex
	file *os.File
	mem  []byte
}

// OpenFileSegment maps path, creating and sizing it when needed. Every
// process opening the same path sees the same frames.
func OpenFileSegment(path string, capacity int) (*FileSegment, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ipc: open segment: %w", err)
	}
	size := headerSize + capacity
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("ipc: stat segment: %w", err)
	}
	if info.Size() != int64(size) {
		if info.Size() != 0 {
			file.Close()
			return nil, fmt.Errorf("ipc: segment %s has size %d, want %d", path, info.Size(), size)
		}
		if err := file.Truncate(int64(size)); err != nil {
			file.Close()
			return nil, fmt.Errorf("ipc: size segment: %w", err)
		}
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("ipc: map segment: %w", err)
	}
	return &FileSegment{file: file, mem: mem}, nil
}

func (s *FileSegment) Capacity() int { return len(s.mem) - headerSize }
func (s *FileSegment) Bytes() []byte { return s.mem }

func (s *FileSegment) Lock() error {
	s.mu.Lock()
	if err := unix.Flock(int(s.file.Fd()), unix.LOCK_EX); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("ipc: lock segment: %w", err)
	}
	return nil
}

func (s *FileSegment) Unlock() error {
	err := unix.Flock(int(s.file.Fd()), unix.LOCK_UN)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("ipc: unlock segment: %w", err)
	}
	return nil
}

func (s *FileSegment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}
