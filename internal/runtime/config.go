package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/lexcodex/ccindex/framework/ast"
	"github.com/lexcodex/ccindex/framework/pipeline"
)

// StateDir holds the cache, logs and shared-memory segments of a project.
const StateDir = ".ccindex"

// ClientChannel names the shared-memory channel editor clients attach to.
const ClientChannel = "client"

// Config captures every knob shared by the serve, index, client and worker
// entry points.
type Config struct {
	Workspace  string
	ConfigPath string
	CachePath  string
	LogPath    string
	IPCDir     string

	ClangPath      string
	ExtraArgs      []string
	SystemPrefixes []string
	IgnorePatterns []string
	Extensions     []string

	Workers           int
	SegmentSize       int
	SubprocessWorkers bool

	Watch         bool
	WatchDebounce time.Duration

	// HTTPAddr enables the HTTP query API when set.
	HTTPAddr string

	// Parser overrides the clang collaborator, mainly for tests.
	Parser ast.Parser
}

// DefaultConfig infers defaults from the current working directory.
func DefaultConfig() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		Workspace:     cwd,
		ClangPath:     "clang",
		Workers:       defaultWorkers(),
		SegmentSize:   32 << 20,
		Watch:         true,
		WatchDebounce: 200 * time.Millisecond,
	}
}

func defaultWorkers() int {
	if n := goruntime.NumCPU(); n > 1 {
		return n - 1
	}
	return 1
}

// Normalize makes every path absolute and fills missing defaults so the
// runtime never re-checks them.
func (c *Config) Normalize() error {
	if c.Workspace == "" {
		return errors.New("workspace path required")
	}
	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	c.Workspace = abs
	state := filepath.Join(c.Workspace, StateDir)
	c.CachePath = c.under(c.CachePath, filepath.Join(state, "cache.db"))
	c.LogPath = c.under(c.LogPath, filepath.Join(state, "ccindex.log"))
	c.IPCDir = c.under(c.IPCDir, filepath.Join(state, "ipc"))
	if c.ClangPath == "" {
		c.ClangPath = "clang"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.SegmentSize <= 0 {
		c.SegmentSize = 32 << 20
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = 200 * time.Millisecond
	}
	if len(c.Extensions) == 0 {
		c.Extensions = pipeline.DefaultExtensions
	}
	if c.IgnorePatterns == nil {
		c.IgnorePatterns = pipeline.DefaultIgnorePatterns
	}
	return nil
}

// under resolves path against the workspace, falling back to def. The
// in-memory SQLite name passes through untouched.
func (c *Config) under(path, def string) string {
	if path == "" {
		return def
	}
	if path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Workspace, path)
}

// ProjectConfig is the persisted form of Config, read from
// .ccindex/config.yaml or .ccindex.toml. Zero fields keep the defaults.
type ProjectConfig struct {
	Workers           int      `yaml:"workers,omitempty" toml:"workers,omitempty"`
	SegmentSize       int      `yaml:"segment_size,omitempty" toml:"segment_size,omitempty"`
	CachePath         string   `yaml:"cache_path,omitempty" toml:"cache_path,omitempty"`
	LogPath           string   `yaml:"log_path,omitempty" toml:"log_path,omitempty"`
	IPCDir            string   `yaml:"ipc_dir,omitempty" toml:"ipc_dir,omitempty"`
	ClangPath         string   `yaml:"clang_path,omitempty" toml:"clang_path,omitempty"`
	ExtraArgs         []string `yaml:"extra_args,omitempty" toml:"extra_args,omitempty"`
	SystemPrefixes    []string `yaml:"system_prefixes,omitempty" toml:"system_prefixes,omitempty"`
	IgnorePatterns    []string `yaml:"ignore_patterns,omitempty" toml:"ignore_patterns,omitempty"`
	Extensions        []string `yaml:"extensions,omitempty" toml:"extensions,omitempty"`
	Watch             *bool    `yaml:"watch,omitempty" toml:"watch,omitempty"`
	WatchDebounce     string   `yaml:"watch_debounce,omitempty" toml:"watch_debounce,omitempty"`
	SubprocessWorkers *bool    `yaml:"subprocess_workers,omitempty" toml:"subprocess_workers,omitempty"`
	HTTPAddr          string   `yaml:"http_addr,omitempty" toml:"http_addr,omitempty"`
}

// LoadProjectConfig decodes path with the decoder its extension names.
func LoadProjectConfig(path string) (ProjectConfig, error) {
	var pc ProjectConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return pc, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &pc); err != nil {
			return pc, fmt.Errorf("decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &pc); err != nil {
			return pc, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return pc, fmt.Errorf("config %s: unsupported format", path)
	}
	return pc, nil
}

// SaveProjectConfig writes pc as YAML or TOML depending on path.
func SaveProjectConfig(path string, pc ProjectConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var b strings.Builder
		err = toml.NewEncoder(&b).Encode(pc)
		data = []byte(b.String())
	case ".yaml", ".yml":
		data, err = yaml.Marshal(pc)
	default:
		err = fmt.Errorf("config %s: unsupported format", path)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// FindProjectConfig returns the first config file present in workspace.
func FindProjectConfig(workspace string) string {
	for _, candidate := range []string{
		filepath.Join(workspace, StateDir, "config.yaml"),
		filepath.Join(workspace, StateDir, "config.yml"),
		filepath.Join(workspace, StateDir+".toml"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Merge copies every set field of pc over c.
func (c *Config) Merge(pc ProjectConfig) error {
	if pc.Workers > 0 {
		c.Workers = pc.Workers
	}
	if pc.SegmentSize > 0 {
		c.SegmentSize = pc.SegmentSize
	}
	setString(&c.CachePath, pc.CachePath)
	setString(&c.LogPath, pc.LogPath)
	setString(&c.IPCDir, pc.IPCDir)
	setString(&c.ClangPath, pc.ClangPath)
	setString(&c.HTTPAddr, pc.HTTPAddr)
	if pc.ExtraArgs != nil {
		c.ExtraArgs = pc.ExtraArgs
	}
	if pc.SystemPrefixes != nil {
		c.SystemPrefixes = pc.SystemPrefixes
	}
	if pc.IgnorePatterns != nil {
		c.IgnorePatterns = pc.IgnorePatterns
	}
	if pc.Extensions != nil {
		c.Extensions = pc.Extensions
	}
	if pc.Watch != nil {
		c.Watch = *pc.Watch
	}
	if pc.SubprocessWorkers != nil {
		c.SubprocessWorkers = *pc.SubprocessWorkers
	}
	if pc.WatchDebounce != "" {
		d, err := time.ParseDuration(pc.WatchDebounce)
		if err != nil {
			return fmt.Errorf("watch_debounce: %w", err)
		}
		c.WatchDebounce = d
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoadConfig returns the defaults for workspace with its project config
// applied. A missing config file is not an error.
func LoadConfig(workspace string) (Config, error) {
	cfg := DefaultConfig()
	if workspace != "" {
		cfg.Workspace = workspace
	}
	path := FindProjectConfig(cfg.Workspace)
	if path == "" {
		return cfg, nil
	}
	pc, err := LoadProjectConfig(path)
	if err != nil {
		return cfg, err
	}
	cfg.ConfigPath = path
	if err := cfg.Merge(pc); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
