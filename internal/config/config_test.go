package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "kirogate.yaml", `
server:
  host: 127.0.0.1
  port: 9000
upstream:
  region: eu-west-1
  proxy_url: http://proxy.internal:3128
accounts:
  path: /var/lib/kirogate/accounts.json
  watch: true
  selection_policy: least-used
  cooldown: 10m
store:
  driver: sqlite
  dsn: /var/lib/kirogate/kirogate.db
logging:
  level: debug
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Upstream.Region != "eu-west-1" {
		t.Errorf("region = %q", cfg.Upstream.Region)
	}
	if cfg.Accounts.SelectionPolicy != "least-used" || cfg.Accounts.Cooldown != 10*time.Minute {
		t.Errorf("accounts = %+v", cfg.Accounts)
	}
	if !cfg.Accounts.Watch {
		t.Error("watch flag lost")
	}
	// Defaults fill the unspecified sections.
	if cfg.Upstream.KiroVersion != "0.8.0" {
		t.Errorf("kiro version default = %q", cfg.Upstream.KiroVersion)
	}
	if cfg.Usage.RefreshSchedule != "@every 6h" {
		t.Errorf("usage schedule default = %q", cfg.Usage.RefreshSchedule)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout default = %v", cfg.Server.ShutdownTimeout)
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "kirogate.json5", `{
	// comments are fine in json5
	server: {port: 8443},
	accounts: {selection_policy: "random"},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 8443 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Accounts.SelectionPolicy != "random" {
		t.Errorf("policy = %q", cfg.Accounts.SelectionPolicy)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("KIROGATE_TEST_DSN", "postgres://gateway@db/kirogate")
	dir := t.TempDir()
	path := writeFile(t, dir, "cfg.yaml", `
store:
  driver: postgres
  dsn: ${KIROGATE_TEST_DSN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.DSN != "postgres://gateway@db/kirogate" {
		t.Errorf("dsn = %q", cfg.Store.DSN)
	}
}

func TestLoadInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
logging:
  level: warn
server:
  port: 9999
`)
	path := writeFile(t, dir, "main.yaml", `
$include: base.yaml
server:
  port: 8088
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 8088 {
		t.Errorf("including file must win: port = %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("included value lost: level = %q", cfg.Logging.Level)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")
	if _, err := Load(path); err == nil {
		t.Fatal("include cycle not detected")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cfg.yaml", "serverr:\n  port: 1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("typoed section accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad policy", func(c *Config) { c.Accounts.SelectionPolicy = "fastest" }, false},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, false},
		{"postgres needs dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }, false},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, false},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
