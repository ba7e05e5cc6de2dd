package server

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"golang.org/x/sync/errgroup"

	"github.com/lexcodex/ccindex/framework/ipc"
)

// ErrForwarderClosed fails requests still waiting when the channel to the
// database owner goes away.
var ErrForwarderClosed = errors.New("server: forwarder closed")

// Forwarder relays an editor's JSON-RPC requests to the database owner over
// a shared-memory channel. It keeps no state of its own beyond the requests
// in flight.
type Forwarder struct {
	ch     *ipc.Channel
	logger *log.Logger
	poll   time.Duration

	mu      sync.Mutex
	pending map[string]chan ipc.QueryResponse
	err     error
	// OnExit runs when the editor sends the exit notification.
	OnExit func()
}

// NewForwarder returns a forwarder over an established channel.
func NewForwarder(ch *ipc.Channel, logger *log.Logger) *Forwarder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Forwarder{
		ch:      ch,
		logger:  logger,
		poll:    time.Millisecond,
		pending: make(map[string]chan ipc.QueryResponse),
	}
}

// Forward sends one request and waits for its answer.
func (f *Forwarder) Forward(ctx context.Context, method string, params []byte) (stdjson.RawMessage, error) {
	id := uuid.NewString()
	reply := make(chan ipc.QueryResponse, 1)
	f.mu.Lock()
	if f.err != nil {
		err := f.err
		f.mu.Unlock()
		return nil, err
	}
	f.pending[id] = reply
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.pending, id)
		f.mu.Unlock()
	}()

	if err := f.ch.Send.Push(ctx, ipc.QueryRequest{ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-reply:
		if !ok {
			return nil, f.closedErr()
		}
		if resp.Error != "" {
			code := resp.Code
			if code == 0 {
				code = jsonrpc2.CodeInternalError
			}
			return nil, &jsonrpc2.Error{Code: code, Message: resp.Error}
		}
		return resp.Result, nil
	}
}

func (f *Forwarder) closedErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// receive routes responses to their waiting requests until ctx ends.
func (f *Forwarder) receive(ctx context.Context) error {
	for {
		msgs, err := f.ch.Recv.Receive(ctx, f.poll)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.fail(err)
			return err
		}
		for _, msg := range msgs {
			switch m := msg.(type) {
			case ipc.QueryResponse:
				f.mu.Lock()
				reply, ok := f.pending[m.ID]
				f.mu.Unlock()
				if !ok {
					f.logger.Printf("response for unknown request %s", m.ID)
					continue
				}
				select {
				case reply <- m:
				default:
				}
			case ipc.IsAlive:
				if err := f.ch.Send.Push(ctx, ipc.IsAliveReply{Sender: "client"}); err != nil {
					f.fail(err)
					return err
				}
			case ipc.IsAliveReply:
			case ipc.Quit:
				f.fail(ErrForwarderClosed)
				return ErrForwarderClosed
			default:
				err := &ipc.ProtocolError{Reason: "unexpected message for client", Tag: msg.Tag()}
				f.fail(err)
				return err
			}
		}
	}
}

// fail records err and wakes every waiting request.
func (f *Forwarder) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return
	}
	f.err = err
	for id, reply := range f.pending {
		close(reply)
		delete(f.pending, id)
	}
}

// Handle adapts Forward to a jsonrpc2 connection. Notifications stay local.
func (f *Forwarder) Handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	if req.Notif {
		if req.Method == "exit" && f.OnExit != nil {
			f.OnExit()
		}
		return nil, nil
	}
	var params []byte
	if req.Params != nil {
		params = *req.Params
	}
	result, err := f.Forward(ctx, req.Method, params)
	if err != nil {
		f.logger.Printf("%s: %v", req.Method, err)
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

// Serve relays requests read from rwc until the editor hangs up, ctx ends
// or the owner breaks the protocol. The owner is told when the editor leaves.
func (f *Forwarder) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return f.receive(gctx) })
	group.Go(func() error {
		defer cancel()
		stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
		conn := jsonrpc2.NewConn(gctx, stream, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(f.Handle)))
		select {
		case <-conn.DisconnectNotify():
		case <-gctx.Done():
			conn.Close()
		}
		quit, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		if err := f.ch.Send.Push(quit, ipc.Quit{}); err != nil {
			f.logger.Printf("notify owner: %v", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil && !errors.Is(err, ErrForwarderClosed) {
		return err
	}
	return nil
}
