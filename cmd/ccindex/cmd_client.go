package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/ccindex/framework/ipc"
	"github.com/lexcodex/ccindex/internal/runtime"
	"github.com/lexcodex/ccindex/server"
)

func newClientCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "client [project]",
		Short: "Forward editor requests on stdio to a running server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, workspaceArg(args))
			if err != nil {
				return err
			}
			logger, logFile, err := runtime.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer logFile.Close()
			logger.SetPrefix("ccindex-client ")
			return runClient(cmd.Context(), cfg, timeout, logger)
		},
	}
	cmd.Flags().DurationVar(&timeout, "handshake-timeout", 5*time.Second, "How long to wait for the server")
	return cmd
}

func runClient(ctx context.Context, cfg runtime.Config, timeout time.Duration, logger *log.Logger) error {
	ch, err := ipc.OpenChannel(cfg.IPCDir, runtime.ClientChannel, ipc.RoleClient, cfg.SegmentSize,
		ipc.NewRegistry(), ipc.QueueConfig{Logger: logger})
	if err != nil {
		return err
	}
	defer ch.Close()
	sender := fmt.Sprintf("client-%d", os.Getpid())
	if _, err := ipc.Handshake(ctx, ch, sender, timeout); err != nil {
		return fmt.Errorf("connect to server in %s: %w", cfg.IPCDir, err)
	}
	logger.Printf("connected to server in %s", cfg.IPCDir)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	f := server.NewForwarder(ch, logger)
	f.OnExit = cancel
	return f.Serve(ctx, server.StdioStream{In: os.Stdin, Out: os.Stdout})
}
