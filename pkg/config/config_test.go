package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Cache.Enabled {
		t.Error("expected cache disabled by default")
	}
	if cfg.Retry.MaxTime != 60*time.Second {
		t.Errorf("expected 60s retry budget, got %v", cfg.Retry.MaxTime)
	}
	if len(cfg.FallbackModels) != 1 || cfg.FallbackModels[0] != "claude-3-5-sonnet-20240620" {
		t.Errorf("unexpected default fallback models: %v", cfg.FallbackModels)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	path := writeConfig(t, `
providers:
  - name: openai
    url: https://api.openai.com/v1
    api_key: ${TEST_API_KEY}
  - name: anthropic
    type: anthropic
    api_key: sk-ant
router:
  routes:
    - model: "claude-*"
      provider: anthropic
fallback_models:
  - gpt-4o-mini
cache:
  enabled: true
  backend: sqlite
  db_path: cache.db
  ttl: 30m
retry:
  max_time: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Providers[0].APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Providers[0].APIKey)
	}
	if cfg.Providers[1].Type != ProviderAnthropic {
		t.Errorf("expected anthropic type, got %q", cfg.Providers[1].Type)
	}
	if len(cfg.Router.Routes) != 1 || cfg.Router.Routes[0].Provider != "anthropic" {
		t.Errorf("unexpected routes: %+v", cfg.Router.Routes)
	}
	if len(cfg.FallbackModels) != 1 || cfg.FallbackModels[0] != "gpt-4o-mini" {
		t.Errorf("unexpected fallback models: %v", cfg.FallbackModels)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Backend != CacheSQLite {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("expected 30m TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Retry.MaxTime != 10*time.Second {
		t.Errorf("expected 10s retry budget, got %v", cfg.Retry.MaxTime)
	}
	if cfg.Retry.InitialInterval != time.Second {
		t.Errorf("expected default initial interval to survive, got %v", cfg.Retry.InitialInterval)
	}
}

func TestLoadEmptyFallbackList(t *testing.T) {
	path := writeConfig(t, "fallback_models: []\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.FallbackModels) != 0 {
		t.Errorf("expected explicit empty fallback list, got %v", cfg.FallbackModels)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown type": `
providers:
  - name: x
    type: bedrock
`,
		"duplicate provider": `
providers:
  - name: x
  - name: x
`,
		"unknown route provider": `
providers:
  - name: x
router:
  routes:
    - model: gpt-4
      provider: y
`,
		"unknown backend": `
cache:
  backend: redis
`,
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
