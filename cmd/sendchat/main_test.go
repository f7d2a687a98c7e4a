package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"

	"github.com/pario-ai/sendchat/pkg/cache/sqlite"
	"github.com/pario-ai/sendchat/pkg/models"
)

// fakeUpstream serves Chat Completions. The model "rejected" gets a 400.
func fakeUpstream(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if body.Model == "rejected" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"model not supported","type":"invalid_request_error"}}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":%q,"choices":[{"index":0,"message":{"role":"assistant","content":"hello from %s"},"finish_reason":"stop"}]}`, body.Model, body.Model)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, upstream string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
providers:
  - name: local
    url: %s/
    api_key: sk-test
fallback_models:
  - backup
cache:
  enabled: true
  backend: sqlite
  db_path: %s
retry:
  initial_interval: 1ms
  max_time: 100ms
log:
  pretty: false
`, upstream, filepath.Join(dir, "cache.db"))
	path := filepath.Join(dir, "sendchat.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSendFallsBackAndCaches(t *testing.T) {
	var calls atomic.Int64
	srv := fakeUpstream(t, &calls)
	cfgPath := writeConfig(t, srv.URL)

	out, err := run(t, newSendCmd(), "--config", cfgPath, "--model", "rejected", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "hello from backup" {
		t.Errorf("unexpected output: %q", out)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 upstream calls, got %d", calls.Load())
	}

	out, err = run(t, newSendCmd(), "--config", cfgPath, "--model", "backup", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "hello from backup" {
		t.Errorf("unexpected cached output: %q", out)
	}
	if calls.Load() != 2 {
		t.Errorf("expected cached reply, upstream calls now %d", calls.Load())
	}

	out, err = run(t, newCacheCmd(), "stats", "--config", cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	// Two misses on the first send (rejected, backup), one hit on the second.
	for _, want := range []string{"Entries: 1", "Hits:    1", "Misses:  2"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats missing %q: %q", want, out)
		}
	}

	if _, err := run(t, newCacheCmd(), "clear", "--config", cfgPath); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, newCacheCmd(), "stats", "--config", cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Entries: 0") {
		t.Errorf("expected empty cache after clear: %q", out)
	}
}

func TestSendNoFallback(t *testing.T) {
	var calls atomic.Int64
	srv := fakeUpstream(t, &calls)
	cfgPath := writeConfig(t, srv.URL)

	_, err := run(t, newSendCmd(), "--config", cfgPath, "--model", "rejected", "--no-fallback", "hi")
	if err != errNoResult {
		t.Fatalf("expected errNoResult, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls.Load())
	}
}

func TestSendExplicitFallbacks(t *testing.T) {
	var calls atomic.Int64
	srv := fakeUpstream(t, &calls)
	cfgPath := writeConfig(t, srv.URL)

	out, err := run(t, newSendCmd(), "--config", cfgPath, "--model", "rejected",
		"--fallback", "rejected", "--fallback", "second", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "hello from second" {
		t.Errorf("unexpected output: %q", out)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 upstream calls, got %d", calls.Load())
	}
}

func TestSendRequiresModel(t *testing.T) {
	if _, err := run(t, newSendCmd(), "hi"); err == nil {
		t.Error("expected error without --model")
	}
}

func TestCacheCommandsRequireSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sendchat.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  backend: memory\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, newCacheCmd(), "stats", "--config", path); err == nil {
		t.Error("expected error for memory backend")
	}
}

func TestLoadConfigMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := loadConfig(missing, false)
	if err != nil {
		t.Fatalf("implicit missing config should fall back to defaults: %v", err)
	}
	if cfg.Retry.MaxTime == 0 {
		t.Error("expected default retry budget")
	}

	if _, err := loadConfig(missing, true); err == nil {
		t.Error("expected error for explicit missing config")
	}
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt(strings.NewReader("ignored"), []string{"what", "is", "go"})
	if err != nil || got != "what is go" {
		t.Errorf("args prompt: %q, %v", got, err)
	}

	got, err = readPrompt(strings.NewReader("  from stdin\n"), nil)
	if err != nil || got != "from stdin" {
		t.Errorf("stdin prompt: %q, %v", got, err)
	}

	if _, err := readPrompt(strings.NewReader("   "), nil); err == nil {
		t.Error("expected error for empty prompt")
	}
}

func TestRetryPolicyOverlay(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "http://127.0.0.1:0"), true)
	if err != nil {
		t.Fatal(err)
	}
	p := retryPolicy(cfg.Retry)
	if p.InitialInterval.Milliseconds() != 1 {
		t.Errorf("expected 1ms initial interval, got %v", p.InitialInterval)
	}
	if p.MaxElapsedTime.Milliseconds() != 100 {
		t.Errorf("expected 100ms budget, got %v", p.MaxElapsedTime)
	}
	if p.Multiplier != 2 {
		t.Errorf("expected default multiplier, got %v", p.Multiplier)
	}
}

func TestCacheStatsReadsCountersFromDisk(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:0")
	cfg, err := loadConfig(cfgPath, true)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	c, err := sqlite.New(cfg.Cache.DBPath, cfg.Cache.TTL)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "k", &models.CompletionResponse{ID: "r1"}); err != nil {
		t.Fatal(err)
	}
	c.Get(ctx, "k")
	c.Get(ctx, "k")
	c.Get(ctx, "missing")
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, newCacheCmd(), "stats", "--config", cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "Entries: 1\nHits:    2\nMisses:  1\n"
	if out != want {
		t.Errorf("stats output = %q, want %q", out, want)
	}
}
