package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/lexcodex/ccindex/framework/ast"
	"github.com/lexcodex/ccindex/framework/ast/clang"
	"github.com/lexcodex/ccindex/framework/index"
	"github.com/lexcodex/ccindex/framework/pipeline"
	"github.com/lexcodex/ccindex/internal/runtime"
	"github.com/lexcodex/ccindex/persistence"
)

func newInspectCmd() *cobra.Command {
	var diff bool
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the test-stable index of one translation unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, "")
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			parser := clang.NewRegistry(cfg.ClangPath, cfg.ExtraArgs, cfg.SystemPrefixes)
			return inspect(cmd.Context(), cmd.OutOrStdout(), cfg, parser, path, diff)
		},
	}
	cmd.Flags().BoolVar(&diff, "diff", false, "Show a unified diff against the cached index")
	return cmd
}

// entryFor returns the compile arguments the project assigns to path.
func entryFor(cfg runtime.Config, path string) pipeline.Entry {
	project, err := pipeline.NewProject(pipeline.ProjectConfig{
		Root:           cfg.Workspace,
		Extensions:     cfg.Extensions,
		IgnorePatterns: cfg.IgnorePatterns,
		DefaultArgs:    cfg.ExtraArgs,
	})
	if err == nil {
		if e, ok := project.Lookup(path); ok {
			return e
		}
	}
	return pipeline.Entry{Path: path, Args: cfg.ExtraArgs}
}

func inspect(ctx context.Context, out io.Writer, cfg runtime.Config, parser ast.Parser, path string, diff bool) error {
	entry := entryFor(cfg, path)
	tu, err := parser.Parse(ctx, entry.Path, entry.Args)
	if err != nil {
		return err
	}
	file, err := index.Extract(tu, entry.Args)
	if err != nil {
		return err
	}
	opts := index.SerializeOptions{TestStable: true, Indent: true}
	current, err := index.Serialize(file, opts)
	if err != nil {
		return err
	}
	if !diff {
		_, err = out.Write(current)
		return err
	}

	var cached []byte
	store, err := persistence.NewCacheStore(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()
	prev, err := store.Load(path)
	switch {
	case errors.Is(err, persistence.ErrNotCached):
	case err != nil:
		return err
	default:
		if cached, err = index.Serialize(prev, opts); err != nil {
			return err
		}
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(cached)),
		B:        difflib.SplitLines(string(current)),
		FromFile: "cached/" + filepath.Base(path),
		ToFile:   "current/" + filepath.Base(path),
		Context:  3,
	})
	if err != nil {
		return err
	}
	if text == "" {
		text = "no changes since the cached index\n"
	}
	_, err = io.WriteString(out, text)
	return err
}
