// Package config reads and writes wikidex.yaml, the description of a wiki
// store: its name, where the indexes live, the backend partitions and how
// namespaces are routed to them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jlrickert/cli-toolkit/toolkit"
	"gopkg.in/yaml.v3"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/wiki"
)

// FileName is the conventional name of the configuration file.
const FileName = "wikidex.yaml"

var (
	ErrInvalid  = os.ErrInvalid
	ErrNotExist = os.ErrNotExist
)

// Backend drivers.
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverBolt   = "bolt"
)

// CompressZstd compresses new payloads of a partition with zstd.
const CompressZstd = "zstd"

// Partition describes one backend partition.
type Partition struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path,omitempty"`
	Compress string `yaml:"compress,omitempty"`
}

// Log configures the logger of the command line tool.
type Log struct {
	Level string `yaml:"level,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// Config is the parsed content of wikidex.yaml. Relative paths are resolved
// against the directory of the file they were read from.
type Config struct {
	WikiName string `yaml:"wikiname"`
	// IndexDir is the live index root. The staging location is
	// IndexDir + ".temp".
	IndexDir   string `yaml:"index_dir"`
	Validation string `yaml:"validation,omitempty"`

	WriterTimeout  time.Duration `yaml:"writer_timeout,omitempty"`
	WriterRetry    time.Duration `yaml:"writer_retry,omitempty"`
	IndexerTimeout time.Duration `yaml:"indexer_timeout,omitempty"`
	IndexerRetry   time.Duration `yaml:"indexer_retry,omitempty"`
	Procs          int           `yaml:"procs,omitempty"`

	Backends map[string]Partition `yaml:"backends"`
	// Namespaces routes namespaces to backends. Order matters and the
	// default namespace "" must be last.
	Namespaces   []backend.Mapping `yaml:"namespaces"`
	IndexAsEmpty []string          `yaml:"index_as_empty,omitempty"`

	Log Log `yaml:"log,omitempty"`

	// dir is the directory relative paths are resolved against.
	dir string
	// env expands "~" in paths. Nil means the process environment.
	env toolkit.Env
	// node is the document the config was parsed from. Its comments are
	// carried over when writing.
	node *yaml.Node
}

// Default returns the configuration of a single badger partition under
// ./data with the indexes under ./index.
func Default() *Config {
	return &Config{
		WikiName:       "MyWiki",
		IndexDir:       "index",
		Validation:     string(wiki.ValidationStrict),
		WriterTimeout:  20 * time.Second,
		WriterRetry:    100 * time.Millisecond,
		IndexerTimeout: wiki.DefaultIndexerTimeout,
		IndexerRetry:   wiki.DefaultIndexerRetry,
		Backends: map[string]Partition{
			"default": {Driver: DriverBadger, Path: filepath.Join("data", "default"), Compress: CompressZstd},
		},
		Namespaces: []backend.Mapping{{Namespace: "", Backend: "default"}},
	}
}

// Parse decodes raw YAML. Relative paths resolve against dir.
func Parse(raw []byte, dir string) (*Config, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg := &Config{}
	if len(node.Content) > 0 {
		if err := node.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		cfg.node = &node
	}
	cfg.dir = dir
	return cfg, nil
}

// Read loads and parses the file at path. Relative paths resolve against the
// working directory of rt.
func Read(rt *toolkit.Runtime, path string) (*Config, error) {
	raw, err := rt.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config %s: %w", path, ErrNotExist)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	abs, err := rt.AbsPath(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw, filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	cfg.env = rt
	return cfg, nil
}

// ToYAML encodes the config. Comments of the document it was parsed from are
// kept for the keys that still exist.
func (c *Config) ToYAML() ([]byte, error) {
	var node yaml.Node
	if err := node.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if c.node != nil && len(c.node.Content) > 0 {
		node.HeadComment = c.node.Content[0].HeadComment
		copyComments(&node, c.node.Content[0])
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write stores the config at path atomically. A config without a directory
// adopts the directory of path.
func (c *Config) Write(rt *toolkit.Runtime, path string) error {
	data, err := c.ToYAML()
	if err != nil {
		return err
	}
	if err := rt.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	if c.dir == "" {
		if abs, err := rt.AbsPath(path); err == nil {
			c.dir = filepath.Dir(abs)
		}
	}
	if c.env == nil {
		c.env = rt
	}
	return nil
}

// copyComments copies comments of matching mapping keys from src to dst,
// descending into nested mappings.
func copyComments(dst, src *yaml.Node) {
	if dst.Kind != yaml.MappingNode || src.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(dst.Content); i += 2 {
		dk, dv := dst.Content[i], dst.Content[i+1]
		for j := 0; j+1 < len(src.Content); j += 2 {
			sk, sv := src.Content[j], src.Content[j+1]
			if sk.Value != dk.Value {
				continue
			}
			dk.HeadComment = sk.HeadComment
			dk.LineComment = sk.LineComment
			dk.FootComment = sk.FootComment
			dv.LineComment = sv.LineComment
			copyComments(dv, sv)
			break
		}
	}
}

// Dir returns the directory relative paths resolve against.
func (c *Config) Dir() string { return c.dir }

// SetDir changes the directory relative paths resolve against.
func (c *Config) SetDir(dir string) { c.dir = dir }

// Path resolves p against the config directory. A leading "~" is the home
// directory.
func (c *Config) Path(p string) string {
	if expanded, err := toolkit.ExpandPath(c.env, p); err == nil {
		p = expanded
	}
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// IndexPath is the resolved live index root.
func (c *Config) IndexPath() string { return c.Path(c.IndexDir) }

// PartitionPath is the resolved storage path of a backend partition.
func (c *Config) PartitionPath(name string) string {
	return c.Path(c.Backends[name].Path)
}

// PartitionNames returns the backend names sorted.
func (c *Config) PartitionNames() []string {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// InvalidConfigError lists the problems found by Validate.
type InvalidConfigError struct {
	Problems []string
}

func (e *InvalidConfigError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalid }

// Validate checks the config for problems that would only surface when the
// store is opened.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.WikiName) == "" {
		add("wikiname is required")
	}
	if c.IndexDir == "" {
		add("index_dir is required")
	}
	if _, err := wiki.ParseValidationMode(c.Validation); err != nil {
		add("validation: %v", err)
	}
	durations := []struct {
		field string
		d     time.Duration
	}{
		{"writer_timeout", c.WriterTimeout},
		{"writer_retry", c.WriterRetry},
		{"indexer_timeout", c.IndexerTimeout},
		{"indexer_retry", c.IndexerRetry},
	}
	for _, d := range durations {
		if d.d < 0 {
			add("%s must not be negative", d.field)
		}
	}
	if c.Procs < 0 {
		add("procs must not be negative")
	}

	if len(c.Backends) == 0 {
		add("at least one backend is required")
	}
	for _, name := range c.PartitionNames() {
		p := c.Backends[name]
		switch p.Driver {
		case DriverMemory:
		case DriverBadger, DriverBolt:
			if p.Path == "" {
				add("backend %s: path is required for driver %s", name, p.Driver)
			}
		default:
			add("backend %s: unknown driver %q", name, p.Driver)
		}
		if p.Compress != "" && p.Compress != CompressZstd {
			add("backend %s: unknown compression %q", name, p.Compress)
		}
	}

	if n := len(c.Namespaces); n == 0 || c.Namespaces[n-1].Namespace != "" {
		add("namespaces: the default namespace \"\" must be mapped last")
	}
	seen := map[string]bool{}
	for _, m := range c.Namespaces {
		if seen[m.Namespace] {
			add("namespaces: %q is mapped twice", m.Namespace)
		}
		seen[m.Namespace] = true
		if _, ok := c.Backends[m.Backend]; !ok {
			add("namespaces: %q maps to unknown backend %q", m.Namespace, m.Backend)
		}
	}

	if len(problems) > 0 {
		return &InvalidConfigError{Problems: problems}
	}
	return nil
}
