package ipc

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// QueueConfig tunes how a full queue is waited on.
type QueueConfig struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// WarnInterval bounds how often a blocked Push is logged.
	WarnInterval time.Duration
	Logger       *log.Logger
}

// DefaultQueueConfig returns the settings used when a field is left zero.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MinBackoff:   50 * time.Microsecond,
		MaxBackoff:   20 * time.Millisecond,
		WarnInterval: 5 * time.Second,
	}
}

func (c QueueConfig) normalize() QueueConfig {
	def := DefaultQueueConfig()
	if c.MinBackoff <= 0 {
		c.MinBackoff = def.MinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = max(def.MaxBackoff, c.MinBackoff)
	}
	if c.WarnInterval <= 0 {
		c.WarnInterval = def.WarnInterval
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
	return c
}

// Queue is a one-directional FIFO of messages over a Segment. Any number of
// producers may Push; one consumer Drains.
type Queue struct {
	seg    Segment
	reg    *Registry
	config QueueConfig
}

// NewQueue binds a queue to seg. Both ends of a queue must use registries
// holding the same message kinds.
func NewQueue(seg Segment, reg *Registry, config QueueConfig) *Queue {
	config = config.normalize()
	return &Queue{
		seg:    seg,
		reg:    reg,
		config: config,
	}
}

// Push appends msg, waiting while the segment lacks room. It fails
// immediately with ErrMessageTooLarge when the frame could never fit.
func (q *Queue) Push(ctx context.Context, msg Message) error {
	tag, payload, err := q.reg.Encode(msg)
	if err != nil {
		return err
	}
	size := frameSize(payload)
	if size >= q.seg.Capacity() {
		return fmt.Errorf("%w: %s frame is %d bytes, segment holds %d; raise segment_size (--segment-size)",
			ErrMessageTooLarge, tag, size, q.seg.Capacity())
	}
	backoff := q.config.MinBackoff
	warn := rate.Sometimes{First: 1, Interval: q.config.WarnInterval}
	for {
		ok, err := q.tryAppend(tag, payload, size)
		if err != nil || ok {
			return err
		}
		warn.Do(func() {
			q.config.Logger.Printf("ipc: queue full, waiting to push %s (%d bytes)", tag, size)
		})
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, q.config.MaxBackoff)
	}
}

func (q *Queue) tryAppend(tag Tag, payload []byte, size int) (bool, error) {
	if err := q.seg.Lock(); err != nil {
		return false, err
	}
	defer q.seg.Unlock()
	n := used(q.seg)
	if n+size >= q.seg.Capacity() {
		return false, nil
	}
	putFrame(frames(q.seg)[n:], tag, payload)
	setUsed(q.seg, n+size)
	return true, nil
}

// Drain removes and returns every queued message in push order. The lock is
// held only to copy the frames out.
func (q *Queue) Drain() ([]Message, error) {
	if err := q.seg.Lock(); err != nil {
		return nil, err
	}
	n := used(q.seg)
	if n > q.seg.Capacity() {
		setUsed(q.seg, 0)
		q.seg.Unlock()
		return nil, &ProtocolError{Reason: "segment header reports more bytes than capacity"}
	}
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		copy(buf, frames(q.seg)[:n])
		setUsed(q.seg, 0)
	}
	if err := q.seg.Unlock(); err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, nil
	}
	return parseFrames(buf, q.reg)
}

// Receive drains every poll interval until at least one message arrives.
func (q *Queue) Receive(ctx context.Context, poll time.Duration) ([]Message, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		msgs, err := q.Drain()
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the underlying segment.
func (q *Queue) Close() error { return q.seg.Close() }
