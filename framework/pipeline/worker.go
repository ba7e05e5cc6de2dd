package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/lexcodex/ccindex/framework/ipc"
)

// WorkerPoll is how often an idle worker drains its job queue.
const WorkerPoll = 2 * time.Millisecond

// RunWorker serves jobs arriving on ch until Quit or ctx ends. It returns a
// *ipc.ProtocolError for messages a worker never receives.
func RunWorker(ctx context.Context, ch *ipc.Channel, ix *Indexer, name string, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	for {
		msgs, err := ch.Recv.Receive(ctx, WorkerPoll)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, msg := range msgs {
			switch m := msg.(type) {
			case ipc.IsAlive:
				if err := ch.Send.Push(ctx, ipc.IsAliveReply{Sender: name}); err != nil {
					return err
				}
			case ipc.IsAliveReply:
			case ipc.IndexJob:
				if err := runJob(ctx, ch, ix, name, m, logger); err != nil {
					return err
				}
			case ipc.Quit:
				return nil
			default:
				return &ipc.ProtocolError{Reason: "unexpected message for worker", Tag: msg.Tag()}
			}
		}
	}
}

func runJob(ctx context.Context, ch *ipc.Channel, ix *Indexer, name string, job ipc.IndexJob, logger *log.Logger) error {
	start := time.Now()
	out := ix.Index(ctx, job)
	res := out.Result
	res.Worker = name
	switch {
	case res.Err != "":
		logger.Printf("worker %s: %s failed: %s", name, job.Path, res.Err)
	case res.Skipped:
	default:
		logger.Printf("worker %s: indexed %s (generation %d) in %s", name, job.Path, job.Generation, time.Since(start).Round(time.Millisecond))
	}
	if err := out.Commit(); err != nil {
		logger.Printf("worker %s: cache %s: %v", name, job.Path, err)
	}
	err := ch.Send.Push(ctx, res)
	if !errors.Is(err, ipc.ErrMessageTooLarge) {
		return err
	}
	logger.Printf("worker %s: dropping update for %s: %v", name, job.Path, err)
	if err := out.Rollback(); err != nil {
		logger.Printf("worker %s: cache %s: %v", name, job.Path, err)
	}
	return ch.Send.Push(ctx, ipc.IndexResult{
		Worker:     name,
		Path:       job.Path,
		Generation: job.Generation,
		Err:        err.Error(),
	})
}
