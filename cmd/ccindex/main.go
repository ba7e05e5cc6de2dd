package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexcodex/ccindex/framework/ipc"
	"github.com/lexcodex/ccindex/internal/runtime"
)

var (
	flagWorkspace string
	flagWorkers   int
	flagClang     string
	flagCache     string
	flagIPCDir    string
	flagSegment   int
	flagExtraArgs []string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 1 for every failure; protocol violations are called out so
// logs show why the peer was abandoned.
func exitCode(err error) int {
	var perr *ipc.ProtocolError
	if errors.As(err, &perr) || errors.Is(err, ipc.ErrHandshakeTimeout) {
		fmt.Fprintln(os.Stderr, "ccindex: unrecoverable protocol violation")
	}
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ccindex",
		Short:         "C++ source indexer and navigation server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", ".", "Project root")
	root.PersistentFlags().IntVar(&flagWorkers, "workers", 0, "Extraction workers (0 uses the config or CPU count)")
	root.PersistentFlags().StringVar(&flagClang, "clang", "", "clang binary used to dump ASTs")
	root.PersistentFlags().StringVar(&flagCache, "cache", "", "Index cache database")
	root.PersistentFlags().StringVar(&flagIPCDir, "ipc-dir", "", "Directory holding shared-memory segments")
	root.PersistentFlags().IntVar(&flagSegment, "segment-size", 0, "Shared-memory segment size in bytes")
	root.PersistentFlags().StringArrayVar(&flagExtraArgs, "extra-arg", nil, "Extra compiler argument (repeatable)")

	root.AddCommand(newServeCmd(), newClientCmd(), newIndexCmd(), newWorkerCmd(), newInspectCmd())
	return root
}

// loadConfig resolves the project config for workspace, then applies the
// flags the user set explicitly.
func loadConfig(cmd *cobra.Command, workspace string) (runtime.Config, error) {
	if workspace == "" {
		workspace = flagWorkspace
	}
	cfg, err := runtime.LoadConfig(workspace)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = flagWorkers
	}
	if flags.Changed("clang") {
		cfg.ClangPath = flagClang
	}
	if flags.Changed("cache") {
		cfg.CachePath = flagCache
	}
	if flags.Changed("ipc-dir") {
		cfg.IPCDir = flagIPCDir
	}
	if flags.Changed("segment-size") {
		cfg.SegmentSize = flagSegment
	}
	if flags.Changed("extra-arg") {
		cfg.ExtraArgs = flagExtraArgs
	}
	return cfg, cfg.Normalize()
}

func workspaceArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
