// Package config loads the flowplan configuration shared by the CLI and the
// MCP server.
//
// Configuration is resolved in layers, later layers winning:
//
//   - built-in defaults
//   - a YAML or TOML file (--config, FLOWPLAN_CONFIG, or flowplan.yaml /
//     flowplan.toml in the working directory)
//   - FLOWPLAN_* environment variables, including ones set from a .env file
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/flowplan/pkg/kernel/governance"
	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/planner"
	"github.com/ormasoftchile/flowplan/pkg/kernel/replay"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLOWPLAN_"

// DefaultFiles are probed in order when no path is given.
var DefaultFiles = []string{"flowplan.yaml", "flowplan.yml", "flowplan.toml"}

// Config is the flowplan configuration document.
type Config struct {
	// Catalog is the path of the catalog/v0 document.
	Catalog string `yaml:"catalog,omitempty" toml:"catalog,omitempty" json:"catalog,omitempty"`
	// Completions is a replay scenario whose completions answer generation
	// requests. It takes precedence over CompletionCommand.
	Completions string `yaml:"completions,omitempty" toml:"completions,omitempty" json:"completions,omitempty"`
	// CompletionCommand is a local model CLI that reads the prompt on stdin.
	CompletionCommand []string `yaml:"completion_command,omitempty" toml:"completion_command,omitempty" json:"completion_command,omitempty"`
	// Trace is the JSONL trace file written during execution.
	Trace    string `yaml:"trace,omitempty" toml:"trace,omitempty" json:"trace,omitempty"`
	LogLevel string `yaml:"log_level,omitempty" toml:"log_level,omitempty" json:"log_level,omitempty"`

	Planner planner.Config     `yaml:"planner,omitempty" toml:"planner,omitempty" json:"planner,omitempty"`
	Policy  *governance.Policy `yaml:"policy,omitempty" toml:"policy,omitempty" json:"policy,omitempty"`

	// Path is the file the configuration was loaded from, if any.
	Path string `yaml:"-" toml:"-" json:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Planner:  planner.DefaultConfig(),
	}
}

// Load reads a configuration file over the defaults. The format follows the
// file extension: .toml is TOML, anything else YAML. Unknown fields are
// rejected in both formats. Relative paths inside the file resolve against
// its directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse config: unknown field %q", undecoded[0].String())
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty file decodes to io.EOF and loads as defaults.
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.Path = path
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.Catalog, &c.Completions, &c.Trace} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Resolve builds the effective configuration. path may be empty. The .env
// file in the working directory is loaded first so its values act as
// environment overrides.
func Resolve(path string) (*Config, error) {
	LoadDotEnv(".env")

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path == "" {
		for _, name := range DefaultFiles {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FLOWPLAN_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("CATALOG", &c.Catalog)
	str("COMPLETIONS", &c.Completions)
	str("TRACE", &c.Trace)
	str("LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup(EnvPrefix + "COMPLETION_COMMAND"); ok && v != "" {
		c.CompletionCommand = strings.Fields(v)
	}

	ints := map[string]*int{
		"MAX_TOKENS":             &c.Planner.MaxTokens,
		"MAX_RELEVANT_FUNCTIONS": &c.Planner.MaxRelevantFunctions,
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("env %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}
	if v, ok := lookup(EnvPrefix + "RELEVANCY_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("env %sRELEVANCY_THRESHOLD: %w", EnvPrefix, err)
		}
		c.Planner.RelevancyThreshold = &f
	}
	lists := map[string]*[]string{
		"EXCLUDED_SKILLS":    &c.Planner.ExcludedSkills,
		"EXCLUDED_FUNCTIONS": &c.Planner.ExcludedFunctions,
		"INCLUDED_FUNCTIONS": &c.Planner.IncludedFunctions,
	}
	for name, dst := range lists {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = splitList(v)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables that aren't already
// set in the environment. Lines are KEY=VALUE (or KEY="VALUE"). Comments (#)
// and blanks are skipped. A missing file is not an error.
func LoadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, val)
		}
	}
}

// Logger builds a production zap logger at the configured level. verbose
// forces debug.
func (c *Config) Logger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	level := zapcore.InfoLevel
	if c.LogLevel != "" {
		if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", c.LogLevel, err)
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// ErrNoCompletion is returned by Completion when neither a replay scenario
// nor a completion command is configured.
var ErrNoCompletion = errors.New("no text completion configured (set completions or completion_command)")

// Completion returns the configured text-generation collaborator.
func (c *Config) Completion() (llm.TextCompletion, error) {
	switch {
	case c.Completions != "":
		s, err := replay.LoadScenario(c.Completions)
		if err != nil {
			return nil, fmt.Errorf("completions: %w", err)
		}
		return replay.New(s), nil
	case len(c.CompletionCommand) > 0:
		return &llm.CommandCompletion{Argv: c.CompletionCommand}, nil
	default:
		return nil, ErrNoCompletion
	}
}

// Governance compiles the configured policy. No policy allows everything.
func (c *Config) Governance() (*governance.Engine, error) {
	e, err := governance.New(c.Policy)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return e, nil
}
