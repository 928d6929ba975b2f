package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  addr: ":9090"
  read_timeout: 10s
health:
  dsn: ":memory:"
providers:
  - name: openai
    family: openai
    base_url: https://api.openai.com/v1
    models: [gpt-4o]
    priority: 1
    auth:
      type: bearer
      key: sk-test
routes:
  - model_alias: gpt-4o
    targets:
      - provider: openai
        model: gpt-4o
        priority: 1
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Health.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Health.DSN, ":memory:")
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("providers count = %d, want 1", len(cfg.Providers))
	}
	if cfg.Providers[0].Name != "openai" {
		t.Errorf("provider name = %q, want %q", cfg.Providers[0].Name, "openai")
	}
	if len(cfg.Routes) != 1 {
		t.Fatalf("routes count = %d, want 1", len(cfg.Routes))
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-secret-123")

	result := expandEnv([]byte("key: ${TEST_API_KEY}"))
	if string(result) != "key: sk-secret-123" {
		t.Errorf("expandEnv = %q, want %q", string(result), "key: sk-secret-123")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	yaml := `{}`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Health.DSN != "routecodex-health.db" {
		t.Errorf("default dsn = %q, want %q", cfg.Health.DSN, "routecodex-health.db")
	}
}

func TestProviderEntryIsEnabled(t *testing.T) {
	t.Parallel()

	p := ProviderEntry{}
	if !p.IsEnabled() {
		t.Error("nil Enabled should default to true")
	}

	disabled := false
	p.Enabled = &disabled
	if p.IsEnabled() {
		t.Error("explicit false Enabled should report disabled")
	}
}
