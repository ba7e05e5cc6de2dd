package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lexcodex/ccindex/internal/runtime"
	"github.com/lexcodex/ccindex/server"
)

func newServeCmd() *cobra.Command {
	var stdio, shared, watch, subprocess bool
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve [project]",
		Short: "Own the symbol database and answer editor queries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, workspaceArg(args))
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("watch") {
				cfg.Watch = watch
			}
			if flags.Changed("subprocess") {
				cfg.SubprocessWorkers = subprocess
			}
			if flags.Changed("http") {
				cfg.HTTPAddr = httpAddr
			}
			if !stdio && !shared && cfg.HTTPAddr == "" {
				return errors.New("nothing to serve: enable --stdio, --shared or --http")
			}
			return serve(cmd.Context(), cfg, stdio, shared)
		},
	}
	cmd.Flags().BoolVar(&stdio, "stdio", true, "Serve JSON-RPC on stdin/stdout")
	cmd.Flags().BoolVar(&shared, "shared", true, "Accept clients over shared memory under --ipc-dir")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reindex files as they change")
	cmd.Flags().BoolVar(&subprocess, "subprocess", false, "Run extraction workers as child processes")
	cmd.Flags().StringVar(&httpAddr, "http", "", "Also serve the HTTP query API on this address")
	return cmd
}

func serve(ctx context.Context, cfg runtime.Config, stdio, shared bool) error {
	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			rt.Logger.Printf("shutdown: %v", err)
		}
	}()
	if err := rt.Start(ctx); err != nil {
		return err
	}
	if shared {
		if _, err := rt.OpenClientChannel(); err != nil {
			return err
		}
		rt.Logger.Printf("accepting clients in %s", rt.Config.IPCDir)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rt.Handler.OnExit = cancel
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return rt.Serve(gctx) })
	if stdio {
		group.Go(func() error {
			// The editor hanging up ends the server.
			defer cancel()
			err := server.ServeStream(gctx, server.StdioStream{In: os.Stdin, Out: os.Stdout}, rt.Handler)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	err = group.Wait()
	rt.Logger.Printf("stopping: %s", rt.Summary())
	return err
}
