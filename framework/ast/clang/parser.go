// Package clang adapts clang's JSON AST dump to the cursor model.
package clang

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lexcodex/ccindex/framework/ast"
)

// DefaultSystemPrefixes are treated as system header locations in addition
// to every -isystem directory.
var DefaultSystemPrefixes = []string{
	"/usr/include",
	"/usr/lib",
	"/usr/local/include",
	"/Library/Developer",
	"/Applications/Xcode.app",
}

// Parser runs clang on one translation unit at a time.
type Parser struct {
	// Path of the clang binary; "clang" when empty.
	Path           string
	ExtraArgs      []string
	SystemPrefixes []string
}

// NewParser returns a parser using the given clang binary.
func NewParser(path string, extraArgs, systemPrefixes []string) *Parser {
	if len(systemPrefixes) == 0 {
		systemPrefixes = DefaultSystemPrefixes
	}
	return &Parser{Path: path, ExtraArgs: extraArgs, SystemPrefixes: systemPrefixes}
}

// NewRegistry registers one clang parser for every C-family language.
func NewRegistry(path string, extraArgs, systemPrefixes []string) *ast.ParserRegistry {
	registry := ast.NewParserRegistry()
	registry.Register(NewParser(path, extraArgs, systemPrefixes), ast.LanguageC, ast.LanguageCPP, ast.LanguageObjC)
	return registry
}

// Parse dumps path and converts the result. A dump produced despite
// compile errors is still converted.
func (p *Parser) Parse(ctx context.Context, path string, args []string) (*ast.TranslationUnit, error) {
	binary := p.Path
	if binary == "" {
		binary = "clang"
	}
	args = SanitizeArgs(args, path)
	cmdArgs := []string{"-Xclang", "-ast-dump=json", "-fsyntax-only"}
	if ast.NewLanguageDetector().IsHeader(path) {
		cmdArgs = append(cmdArgs, "-x", "c++-header")
	}
	cmdArgs = append(cmdArgs, args...)
	cmdArgs = append(cmdArgs, p.ExtraArgs...)
	cmdArgs = append(cmdArgs, path)

	cmd := exec.CommandContext(ctx, binary, cmdArgs...)
	dir := WorkingDir(args)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	if stdout.Len() == 0 {
		if runErr == nil {
			runErr = errors.New("no output")
		}
		return nil, &ast.ParseError{Path: path, Err: fmt.Errorf("%s: %w: %s", binary, runErr, strings.TrimSpace(stderr.String()))}
	}
	prefixes := append(append([]string(nil), p.SystemPrefixes...), SystemDirs(args)...)
	tu, err := Convert(path, stdout.Bytes(), Options{Dir: dir, SystemPrefixes: prefixes})
	if err != nil {
		return nil, &ast.ParseError{Path: path, Err: err}
	}
	tu.Args = args
	return tu, nil
}

// SanitizeArgs drops the compiler name, the source file, and output or
// dependency-file flags from a compile command.
func SanitizeArgs(args []string, path string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case i == 0 && !strings.HasPrefix(arg, "-"):
			continue
		case arg == "-c", arg == "-MD", arg == "-MMD", arg == "-M", arg == "-MM":
			continue
		case arg == "-o", arg == "-MF", arg == "-MT", arg == "-MQ":
			i++
			continue
		case strings.HasPrefix(arg, "-o") && len(arg) > 2:
			continue
		case arg == path || (!strings.HasPrefix(arg, "-") && filepath.Base(arg) == filepath.Base(path) && sameFile(arg, path)):
			continue
		}
		out = append(out, arg)
	}
	return out
}

func sameFile(a, b string) bool {
	if filepath.IsAbs(a) && filepath.IsAbs(b) {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return true
}

// WorkingDir returns the value of -working-directory, if any.
func WorkingDir(args []string) string {
	for i, arg := range args {
		if v, ok := strings.CutPrefix(arg, "-working-directory="); ok {
			return v
		}
		if arg == "-working-directory" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// SystemDirs lists the -isystem directories of args.
func SystemDirs(args []string) []string {
	var dirs []string
	for i, arg := range args {
		switch {
		case arg == "-isystem" && i+1 < len(args):
			dirs = append(dirs, args[i+1])
		case strings.HasPrefix(arg, "-isystem") && len(arg) > len("-isystem"):
			dirs = append(dirs, strings.TrimPrefix(arg, "-isystem"))
		}
	}
	return dirs
}
