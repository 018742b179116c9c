package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
server:
  listen: "127.0.0.1:9000"
  write_timeout: 30s
  tokens:
    dev-token: alice
provider:
  name: openai
  model: gpt-4o-mini
  api_key: ${TRACE_TEST_KEY}
store:
  driver: postgres
  url: postgres://localhost/trace
  migrate: true
compaction:
  token_trigger: 8000
  keep_count: 6
validation:
  skip: true
analysis:
  enabled: true
  window: 168h
  batch_size: 10
prompts:
  list:
    - "What surprised you today?"
  max_tool_rounds: 2
  tool_timeout: 5s
logging:
  level: debug
  format: json
`

func TestParse(t *testing.T) {
	t.Setenv("TRACE_TEST_KEY", "sk-from-env")

	f, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if f.Server.Listen != "127.0.0.1:9000" || f.Server.WriteTimeout != 30*time.Second {
		t.Errorf("server = %+v", f.Server)
	}
	if f.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout default = %v", f.Server.ReadTimeout)
	}
	if f.Server.Tokens["dev-token"] != "alice" {
		t.Errorf("tokens = %v", f.Server.Tokens)
	}
	if f.Provider.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want expanded env value", f.Provider.APIKey)
	}
	if f.Store.Driver != DriverPostgres || !f.Store.Migrate || f.Store.Prefix != "trace:" {
		t.Errorf("store = %+v", f.Store)
	}
	if f.Compaction.TokenTrigger != 8000 || f.Compaction.KeepCount != 6 {
		t.Errorf("compaction = %+v", f.Compaction)
	}
	if !f.Validation.Skip {
		t.Error("validation.skip not decoded")
	}
	if !f.Analysis.Enabled || f.Analysis.Window != 7*24*time.Hour || f.Analysis.BatchSize != 10 {
		t.Errorf("analysis = %+v", f.Analysis)
	}
	if len(f.Prompts.List) != 1 || f.Prompts.MaxToolRounds != 2 || f.Prompts.ToolTimeout != 5*time.Second {
		t.Errorf("prompts = %+v", f.Prompts)
	}
	if f.Logging.Level != "debug" || f.Logging.Format != "json" {
		t.Errorf("logging = %+v", f.Logging)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing model", "provider:\n  name: anthropic\n", "provider.model"},
		{"unknown provider", "provider:\n  name: cohere\n  model: x\n", "unknown provider"},
		{"unknown driver", "provider:\n  model: x\nstore:\n  driver: mongo\n", "unknown driver"},
		{"url required", "provider:\n  model: x\nstore:\n  driver: redis\n", "store.url"},
		{"bad level", "provider:\n  model: x\nlogging:\n  level: loud\n", "logging.level"},
		{"negative keep", "provider:\n  model: x\ncompaction:\n  keep_count: -1\n", "non-negative"},
		{"blank prompt", "provider:\n  model: x\nprompts:\n  list: [\"  \"]\n", "prompts.list[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Parse() error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	if _, err := Parse([]byte("server: [unclosed")); err == nil || errors.Is(err, ErrInvalid) {
		t.Errorf("Parse() error = %v, want a decode error", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.yaml")
	if err := os.WriteFile(path, []byte("provider:\n  model: claude-test\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Store.Driver != DriverMemory || f.Provider.Name != ProviderAnthropic || f.Server.Listen != ":8080" {
		t.Errorf("defaults not applied: %+v", f)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}

func TestDefault(t *testing.T) {
	f := Default()
	if f.Logging.Format != "text" || f.Logging.Level != "info" {
		t.Errorf("logging defaults = %+v", f.Logging)
	}
	// Default has no model, so it does not validate on its own.
	if err := f.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate() = %v, want ErrInvalid", err)
	}
}
