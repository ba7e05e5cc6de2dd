package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/ccindex/framework/index"
	"github.com/lexcodex/ccindex/internal/runtime"
)

func newIndexCmd() *cobra.Command {
	var out string
	var testStable bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "index <project>",
		Short: "Index a project once and write the database dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args[0])
			if err != nil {
				return err
			}
			cfg.Watch = false
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			data, err := indexOnce(ctx, cfg, index.SerializeOptions{TestStable: testStable, Indent: true})
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the dump here instead of stdout")
	cmd.Flags().BoolVar(&testStable, "test-stable", false, "Omit identity strings and per-run fields")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long")
	return cmd
}

func indexOnce(ctx context.Context, cfg runtime.Config, opts index.SerializeOptions) ([]byte, error) {
	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.Close(closeCtx)
	}()
	if err := rt.Start(ctx); err != nil {
		return nil, err
	}
	if err := rt.WaitIdle(ctx); err != nil {
		return nil, err
	}
	rt.Logger.Printf("indexed: %s", rt.Summary())
	return rt.Database.Snapshot(opts)
}
