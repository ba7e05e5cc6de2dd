package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexcodex/ccindex/framework/ast/clang"
	"github.com/lexcodex/ccindex/framework/ipc"
	"github.com/lexcodex/ccindex/framework/pipeline"
	"github.com/lexcodex/ccindex/persistence"
)

func newWorkerCmd() *cobra.Command {
	var name string
	var systemPrefixes []string
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Extraction worker started by the server",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || flagIPCDir == "" || flagSegment <= 0 {
				return errors.New("worker needs --name, --ipc-dir and --segment-size")
			}
			// The server captures our stderr into its own log.
			logger := log.New(os.Stderr, "worker "+name+" ", log.LstdFlags|log.Lmicroseconds)
			return runWorker(cmd.Context(), name, systemPrefixes, logger)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Channel name assigned by the server")
	cmd.Flags().StringArrayVar(&systemPrefixes, "system-prefix", nil, "Path prefix treated as a system header (repeatable)")
	return cmd
}

func runWorker(ctx context.Context, name string, systemPrefixes []string, logger *log.Logger) error {
	ch, err := ipc.OpenChannel(flagIPCDir, name, ipc.RoleClient, flagSegment, ipc.NewRegistry(), ipc.QueueConfig{Logger: logger})
	if err != nil {
		return err
	}
	defer ch.Close()

	var cache pipeline.Cache
	if flagCache != "" {
		store, err := persistence.NewCacheStore(flagCache)
		if err != nil {
			return err
		}
		defer store.Close()
		cache = store
	}
	clangPath := flagClang
	if clangPath == "" {
		clangPath = "clang"
	}
	ix := pipeline.NewIndexer(clang.NewRegistry(clangPath, flagExtraArgs, systemPrefixes), cache, logger)

	// Announce ourselves; the reply is consumed by the worker loop.
	if err := ch.Send.Push(ctx, ipc.IsAlive{Sender: name}); err != nil {
		return err
	}
	return pipeline.RunWorker(ctx, ch, ix, name, logger)
}
