// Package pipeline discovers translation units, runs extraction workers and
// turns file changes into index jobs.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/segmentio/encoding/json"

	"github.com/lexcodex/ccindex/framework/ast/clang"
)

// DefaultExtensions are the translation-unit extensions scanned when no
// compilation database exists. Headers are indexed through their includers.
var DefaultExtensions = []string{".c", ".cc", ".cpp", ".cxx", ".c++", ".m", ".mm"}

// DefaultIgnorePatterns skip build output and VCS metadata.
var DefaultIgnorePatterns = []string{".git", ".ccindex", "node_modules", "third_party"}

// ProjectConfig describes where translation units come from.
type ProjectConfig struct {
	Root string
	// CompileCommands overrides the compile_commands.json lookup.
	CompileCommands string
	Extensions      []string
	IgnorePatterns  []string
	// DefaultArgs apply to files found by walking Root.
	DefaultArgs []string
}

// Entry is one translation unit and the arguments to parse it with.
type Entry struct {
	Path string
	Args []string
}

// Project is the set of translation units of a source tree.
type Project struct {
	config  ProjectConfig
	mu      sync.Mutex
	entries map[string]Entry
}

// NewProject scans the tree described by config.
func NewProject(config ProjectConfig) (*Project, error) {
	if config.Root == "" {
		config.Root = "."
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, err
	}
	config.Root = root
	if len(config.Extensions) == 0 {
		config.Extensions = DefaultExtensions
	}
	if config.IgnorePatterns == nil {
		config.IgnorePatterns = DefaultIgnorePatterns
	}
	p := &Project{config: config, entries: make(map[string]Entry)}
	if err := p.Rescan(); err != nil {
		return nil, err
	}
	return p, nil
}

// Root returns the absolute project root.
func (p *Project) Root() string { return p.config.Root }

// Rescan reloads the compilation database or walks the tree again.
func (p *Project) Rescan() error {
	var entries []Entry
	var err error
	if path := p.compileCommandsPath(); path != "" {
		entries, err = LoadCompileCommands(path)
	} else {
		entries, err = p.walk()
	}
	if err != nil {
		return err
	}
	kept := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if !p.shouldIgnore(e.Path) {
			kept[e.Path] = e
		}
	}
	p.mu.Lock()
	p.entries = kept
	p.mu.Unlock()
	return nil
}

// Entries returns every translation unit sorted by path.
func (p *Project) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Lookup returns the entry for path.
func (p *Project) Lookup(path string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[path]
	return e, ok
}

// Track returns the entry for a file that appeared after the scan, adding
// it when it qualifies as a translation unit.
func (p *Project) Track(path string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[path]; ok {
		return e, true
	}
	if !p.isSource(path) || p.shouldIgnore(path) {
		return Entry{}, false
	}
	e := Entry{Path: path, Args: append([]string(nil), p.config.DefaultArgs...)}
	p.entries[path] = e
	return e, true
}

// Forget drops path from the project.
func (p *Project) Forget(path string) {
	p.mu.Lock()
	delete(p.entries, path)
	p.mu.Unlock()
}

func (p *Project) compileCommandsPath() string {
	if p.config.CompileCommands != "" {
		return p.config.CompileCommands
	}
	for _, dir := range []string{"", "build"} {
		candidate := filepath.Join(p.config.Root, dir, "compile_commands.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func (p *Project) walk() ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(p.config.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != p.config.Root && p.shouldIgnore(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.isSource(path) || p.shouldIgnore(path) {
			return nil
		}
		entries = append(entries, Entry{Path: path, Args: append([]string(nil), p.config.DefaultArgs...)})
		return nil
	})
	return entries, err
}

func (p *Project) isSource(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range p.config.Extensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

// ShouldIgnore reports whether path matches an ignore pattern.
func (p *Project) ShouldIgnore(path string) bool { return p.shouldIgnore(path) }

func (p *Project) shouldIgnore(path string) bool {
	for _, pattern := range p.config.IgnorePatterns {
		if pattern == "" {
			continue
		}
		if matchGlob(pattern, filepath.Base(path)) {
			return true
		}
		if strings.Contains(pattern, "/") {
			if rel, err := filepath.Rel(p.config.Root, path); err == nil && matchGlob(pattern, rel) {
				return true
			}
			continue
		}
		if strings.Contains(filepath.ToSlash(path), "/"+strings.Trim(pattern, "/")+"/") {
			return true
		}
	}
	return false
}

type compileCommand struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Arguments []string `json:"arguments,omitempty"`
	Command   string   `json:"command,omitempty"`
}

// LoadCompileCommands reads a clang compilation database. Arguments are
// sanitized for AST dumping and carry the command's working directory.
func LoadCompileCommands(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var commands []compileCommand
	if err := json.Unmarshal(data, &commands); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	entries := make([]Entry, 0, len(commands))
	seen := make(map[string]bool, len(commands))
	for _, cmd := range commands {
		if cmd.File == "" {
			continue
		}
		file := cmd.File
		if !filepath.IsAbs(file) {
			file = filepath.Join(cmd.Directory, file)
		}
		file = filepath.Clean(file)
		if seen[file] {
			continue
		}
		seen[file] = true
		args := cmd.Arguments
		if len(args) == 0 {
			args, err = SplitCommand(cmd.Command)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
		}
		args = clang.SanitizeArgs(args, cmd.File)
		if cmd.Directory != "" {
			args = append(args, "-working-directory="+cmd.Directory)
		}
		entries = append(entries, Entry{Path: file, Args: args})
	}
	return entries, nil
}

// ErrUnterminatedQuote is returned by SplitCommand for unbalanced quotes.
var ErrUnterminatedQuote = errors.New("unterminated quote in command")

// SplitCommand splits a shell command line into words, honouring single
// quotes, double quotes and backslash escapes.
func SplitCommand(command string) ([]string, error) {
	var (
		words   []string
		current strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range command {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, ErrUnterminatedQuote
	}
	if inWord {
		words = append(words, current.String())
	}
	return words, nil
}
