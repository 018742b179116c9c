// Package config loads the traced service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQL      = "sql"
	DriverRedis    = "redis"
)

// Providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// File is the top-level configuration for traced.
type File struct {
	Server     Server     `yaml:"server"`
	Provider   Provider   `yaml:"provider"`
	Store      Store      `yaml:"store"`
	Compaction Compaction `yaml:"compaction"`
	Validation Validation `yaml:"validation"`
	Analysis   Analysis   `yaml:"analysis"`
	Prompts    Prompts    `yaml:"prompts"`
	Logging    Logging    `yaml:"logging"`
}

// Server configures the HTTP listener.
type Server struct {
	// Listen is the TCP address. Defaults to ":8080".
	Listen string `yaml:"listen"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Tokens maps bearer tokens to user ids for the static authenticator.
	Tokens map[string]string `yaml:"tokens"`
}

// Provider selects the model vendor.
type Provider struct {
	// Name is anthropic, openai or gemini.
	Name   string `yaml:"name"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

// Store selects the persistence backend.
type Store struct {
	// Driver is memory, postgres, sql or redis.
	Driver string `yaml:"driver"`

	// URL is the DSN or redis:// URL. Unused for memory.
	URL string `yaml:"url"`

	// Prefix namespaces redis keys. Defaults to "trace:".
	Prefix string `yaml:"prefix"`

	// Migrate creates the SQL schema on start.
	Migrate bool `yaml:"migrate"`
}

// Compaction tunes history compaction. Zero values take library defaults.
type Compaction struct {
	TokenTrigger int `yaml:"token_trigger"`
	KeepCount    int `yaml:"keep_count"`
}

// Validation controls the input validator.
type Validation struct {
	Skip bool `yaml:"skip"`
}

// Analysis configures sentiment sweeps and pattern analysis.
type Analysis struct {
	Enabled       bool          `yaml:"enabled"`
	Window        time.Duration `yaml:"window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	BatchSize     int           `yaml:"batch_size"`
	Concurrency   int           `yaml:"concurrency"`
}

// Prompts configures the journaling prompts and the model's prompt tool.
type Prompts struct {
	// List replaces the built-in prompts.
	List []string `yaml:"list"`

	DisableTool   bool          `yaml:"disable_tool"`
	MaxToolRounds int           `yaml:"max_tool_rounds"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
}

// Logging configures the slog handler.
type Logging struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *File {
	f := &File{}
	f.ApplyDefaults()
	return f
}

// Load reads path, expands ${VAR} references from the environment, decodes
// the YAML, applies defaults and validates the result.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	f.ApplyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ApplyDefaults fills zero-valued fields.
func (f *File) ApplyDefaults() {
	if f.Server.Listen == "" {
		f.Server.Listen = ":8080"
	}
	if f.Server.ReadTimeout == 0 {
		f.Server.ReadTimeout = 15 * time.Second
	}
	if f.Server.WriteTimeout == 0 {
		f.Server.WriteTimeout = 2 * time.Minute
	}
	if f.Server.ShutdownTimeout == 0 {
		f.Server.ShutdownTimeout = 10 * time.Second
	}
	if f.Provider.Name == "" {
		f.Provider.Name = ProviderAnthropic
	}
	if f.Store.Driver == "" {
		f.Store.Driver = DriverMemory
	}
	if f.Store.Prefix == "" {
		f.Store.Prefix = "trace:"
	}
	if f.Logging.Level == "" {
		f.Logging.Level = "info"
	}
	if f.Logging.Format == "" {
		f.Logging.Format = "text"
	}
}

// Validate checks the configuration.
func (f *File) Validate() error {
	var errs []error

	switch f.Provider.Name {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("provider.name: unknown provider %q (supported: anthropic, openai, gemini)", f.Provider.Name))
	}
	if f.Provider.Model == "" {
		errs = append(errs, errors.New("provider.model is required"))
	}

	switch f.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQL, DriverRedis:
		if f.Store.URL == "" {
			errs = append(errs, fmt.Errorf("store.url is required for driver %q", f.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q (supported: memory, postgres, sql, redis)", f.Store.Driver))
	}

	if f.Compaction.TokenTrigger < 0 || f.Compaction.KeepCount < 0 {
		errs = append(errs, errors.New("compaction values must be non-negative"))
	}
	if f.Analysis.BatchSize < 0 || f.Analysis.Concurrency < 0 || f.Analysis.Window < 0 || f.Analysis.SweepInterval < 0 {
		errs = append(errs, errors.New("analysis values must be non-negative"))
	}

	if f.Prompts.MaxToolRounds < 0 || f.Prompts.ToolTimeout < 0 {
		errs = append(errs, errors.New("prompts values must be non-negative"))
	}
	for i, p := range f.Prompts.List {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("prompts.list[%d] is blank", i))
		}
	}

	switch f.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", f.Logging.Level))
	}
	switch f.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", f.Logging.Format))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalid}, errs...)...)
	}
	return nil
}
