package ipc

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/ccindex/framework/db"
)

func newTestQueue(capacity int) *Queue {
	return NewQueue(NewMemorySegment(capacity), NewRegistry(), QueueConfig{
		MinBackoff: time.Microsecond,
		MaxBackoff: time.Millisecond,
	})
}

func TestTransportRoundTrip(t *testing.T) {
	q := newTestQueue(1 << 16)
	ctx := context.Background()
	sent := []Message{
		IndexJob{Path: "a.cc", Args: []string{"-std=c++17"}, Generation: 4},
		IndexResult{Path: "a.cc", Generation: 4, Update: &db.IndexUpdate{
			Path:  "a.cc",
			Files: []string{"a.cc"},
			FuncsCallees: []db.MergeableUpdate[db.CallEdge]{{
				USR:   "c:@F@f#",
				ToAdd: []db.CallEdge{{USR: "c:@F@g#", Loc: 7}},
			}},
		}},
		Quit{},
	}
	for _, msg := range sent {
		require.NoError(t, q.Push(ctx, msg))
	}
	got, err := q.Drain()
	require.NoError(t, err)
	require.Equal(t, sent, got)

	got, err = q.Drain()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCapacityBackoff(t *testing.T) {
	reg := NewRegistry()
	_, payload, err := reg.Encode(IndexJob{Path: "x.cc"})
	require.NoError(t, err)
	// Room for two frames but not three.
	q := newTestQueue(frameSize(payload)*3 - 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const total = 20
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			assert.NoError(t, q.Push(ctx, IndexJob{Path: "x.cc"}))
		}
	}()

	var received []Message
	for len(received) < total {
		msgs, err := q.Receive(ctx, time.Millisecond)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(msgs), 2)
		received = append(received, msgs...)
	}
	wg.Wait()
	assert.Len(t, received, total)
}

func TestPushBlocksUntilContextDone(t *testing.T) {
	reg := NewRegistry()
	_, payload, err := reg.Encode(Quit{})
	require.NoError(t, err)
	q := newTestQueue(frameSize(payload) + 1)
	require.NoError(t, q.Push(context.Background(), Quit{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = q.Push(ctx, Quit{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPushRejectsOversizedMessage(t *testing.T) {
	q := newTestQueue(64)
	err := q.Push(context.Background(), IndexJob{Path: strings.Repeat("p", 128)})
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Contains(t, err.Error(), "segment_size (--segment-size)")
}

func TestDrainRejectsUnknownTag(t *testing.T) {
	seg := NewMemorySegment(64)
	q := NewQueue(seg, NewRegistry(), QueueConfig{})
	n := putFrame(frames(seg), Tag(99), []byte("{}"))
	setUsed(seg, n)

	_, err := q.Drain()
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, Tag(99), perr.Tag)
}

func TestDrainRejectsTruncatedFrame(t *testing.T) {
	seg := NewMemorySegment(64)
	q := NewQueue(seg, NewRegistry(), QueueConfig{})
	buf := frames(seg)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(TagQuit))
	binary.LittleEndian.PutUint64(buf[4:12], 40)
	setUsed(seg, frameHeaderSize+2)

	_, err := q.Drain()
	var perr *ProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestDrainRejectsMalformedPayload(t *testing.T) {
	seg := NewMemorySegment(64)
	q := NewQueue(seg, NewRegistry(), QueueConfig{})
	setUsed(seg, putFrame(frames(seg), TagIndexJob, []byte("{not json")))

	_, err := q.Drain()
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, TagIndexJob, perr.Tag)
	assert.Error(t, perr.Unwrap())
}

func TestFileSegmentSharedBetweenMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg")
	a, err := OpenFileSegment(path, 4096)
	if errors.Is(err, ErrSegmentUnsupported) {
		t.Skip("file segments unsupported")
	}
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenFileSegment(path, 4096)
	require.NoError(t, err)
	defer b.Close()

	reg := NewRegistry()
	producer := NewQueue(a, reg, QueueConfig{})
	consumer := NewQueue(b, reg, QueueConfig{})
	require.NoError(t, producer.Push(context.Background(), IsAlive{Sender: "server"}))

	got, err := consumer.Drain()
	require.NoError(t, err)
	assert.Equal(t, []Message{IsAlive{Sender: "server"}}, got)

	_, err = OpenFileSegment(path, 1024)
	assert.Error(t, err)
}

func TestHandshake(t *testing.T) {
	server, client := NewMemoryChannelPair(4096, NewRegistry(), QueueConfig{})
	ctx := context.Background()
	require.NoError(t, server.Send.Push(ctx, IndexJob{Path: "early.cc"}))

	var serverErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, serverErr = Handshake(ctx, server, "server", time.Second)
	}()
	pending, err := Handshake(ctx, client, "client", time.Second)
	wg.Wait()

	require.NoError(t, err)
	require.NoError(t, serverErr)
	assert.Equal(t, []Message{IndexJob{Path: "early.cc"}}, pending)
}

func TestHandshakeTimesOut(t *testing.T) {
	_, client := NewMemoryChannelPair(4096, NewRegistry(), QueueConfig{})
	_, err := Handshake(context.Background(), client, "client", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestOpenChannelRoles(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	server, err := OpenChannel(dir, "main", RoleServer, 4096, reg, QueueConfig{})
	if errors.Is(err, ErrSegmentUnsupported) {
		t.Skip("file segments unsupported")
	}
	require.NoError(t, err)
	defer server.Close()
	client, err := OpenChannel(dir, "main", RoleClient, 4096, reg, QueueConfig{})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Send.Push(ctx, QueryRequest{ID: "1", Method: "workspace/symbol"}))
	got, err := server.Recv.Drain()
	require.NoError(t, err)
	assert.Equal(t, []Message{QueryRequest{ID: "1", Method: "workspace/symbol"}}, got)
}
