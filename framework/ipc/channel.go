package ipc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Role selects which queue of a shared channel an endpoint writes to.
type Role int

const (
	// RoleServer owns the database and writes the "down" queue.
	RoleServer Role = iota
	// RoleClient writes the "up" queue.
	RoleClient
)

// Channel is a bidirectional link made of two queues.
type Channel struct {
	Send *Queue
	Recv *Queue
}

// Close releases both queues.
func (c *Channel) Close() error {
	return errors.Join(c.Send.Close(), c.Recv.Close())
}

// NewMemoryChannelPair returns two connected in-process endpoints.
func NewMemoryChannelPair(capacity int, reg *Registry, config QueueConfig) (*Channel, *Channel) {
	up := NewMemorySegment(capacity)
	down := NewMemorySegment(capacity)
	a := &Channel{Send: NewQueue(down, reg, config), Recv: NewQueue(up, reg, config)}
	b := &Channel{Send: NewQueue(up, reg, config), Recv: NewQueue(down, reg, config)}
	return a, b
}

// SegmentPaths names the two files backing the channel called name in dir.
func SegmentPaths(dir, name string) (up, down string) {
	return filepath.Join(dir, name+".up"), filepath.Join(dir, name+".down")
}

// OpenChannel maps the shared channel name under dir for role. Both peers
// must pass the same capacity.
func OpenChannel(dir, name string, role Role, capacity int, reg *Registry, config QueueConfig) (*Channel, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("ipc: create channel dir: %w", err)
	}
	upPath, downPath := SegmentPaths(dir, name)
	up, err := OpenFileSegment(upPath, capacity)
	if err != nil {
		return nil, err
	}
	down, err := OpenFileSegment(downPath, capacity)
	if err != nil {
		up.Close()
		return nil, err
	}
	upQ, downQ := NewQueue(up, reg, config), NewQueue(down, reg, config)
	if role == RoleServer {
		return &Channel{Send: downQ, Recv: upQ}, nil
	}
	return &Channel{Send: upQ, Recv: downQ}, nil
}

// Handshake announces sender on ch and waits for the peer's IsAliveReply.
// Messages other than the reply that arrive meanwhile are returned so the
// caller can process them. An IsAlive from the peer is answered in place.
func Handshake(ctx context.Context, ch *Channel, sender string, timeout time.Duration) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ch.Send.Push(ctx, IsAlive{Sender: sender}); err != nil {
		return nil, handshakeErr(err)
	}
	var pending []Message
	for {
		msgs, err := ch.Recv.Receive(ctx, time.Millisecond)
		if err != nil {
			return pending, handshakeErr(err)
		}
		replied := false
		for _, msg := range msgs {
			switch msg.(type) {
			case IsAliveReply:
				replied = true
			case IsAlive:
				if err := ch.Send.Push(ctx, IsAliveReply{Sender: sender}); err != nil {
					return pending, handshakeErr(err)
				}
			default:
				pending = append(pending, msg)
			}
		}
		if replied {
			return pending, nil
		}
	}
}

func handshakeErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrHandshakeTimeout
	}
	return err
}
