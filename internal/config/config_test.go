package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfigYAML() string {
	return `
llm:
  backend: anthropic
  models:
    - id: claude-sonnet-4-20250514
      max_context_tokens: 200000
    - id: claude-haiku-3-5
      max_context_tokens: 100000
  profiles:
    chat: claude-sonnet-4-20250514
    indexing: claude-haiku-3-5
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfigYAML()))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Backend != "anthropic" {
		t.Fatalf("backend lost: %q", cfg.LLM.Backend)
	}
	// Defaults survive partial configs.
	if cfg.Session.MaxIterations != 10 {
		t.Fatalf("expected default max_iterations 10, got %d", cfg.Session.MaxIterations)
	}
}

func TestValidateMissingBackendFatal(t *testing.T) {
	_, err := Load(writeConfig(t, `session: {max_sessions: 5}`))
	if err == nil || !strings.Contains(err.Error(), "backend") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestValidateModelWithoutContextTokensFatal(t *testing.T) {
	_, err := Load(writeConfig(t, `
llm:
  backend: anthropic
  models:
    - id: some-model
`))
	if err == nil || !strings.Contains(err.Error(), "max_context_tokens") {
		t.Fatalf("expected max_context_tokens error, got %v", err)
	}
}

func TestValidateUnresolvedProfileFatal(t *testing.T) {
	_, err := Load(writeConfig(t, `
llm:
  backend: anthropic
  models:
    - id: m1
      max_context_tokens: 1000
  profiles:
    chat: no-such-model
`))
	if err == nil || !strings.Contains(err.Error(), "unknown model") {
		t.Fatalf("expected unresolved profile error, got %v", err)
	}
}

func TestProfileModelFallsBackToChat(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
llm:
  backend: anthropic
  models:
    - id: m1
      max_context_tokens: 1000
  profiles:
    chat: m1
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	model, err := cfg.ProfileModel("indexing")
	if err != nil {
		t.Fatalf("ProfileModel() error = %v", err)
	}
	if model.ID != "m1" {
		t.Fatalf("expected chat fallback, got %q", model.ID)
	}
}

func TestLoadMissingFileUsesDefaultsButValidates(t *testing.T) {
	// Defaults have no backend, so an empty path must fail validation.
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation failure for defaults without backend")
	}
}
