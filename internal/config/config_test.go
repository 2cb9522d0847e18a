package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	yamlContent := `defaults:
  server: imap.test.com
  username: test@example.com
  password: testpass
  exclude: "Trash, Junk"
  batch_size: 25
  zip: true
  delay: 1s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	cfg, err := LoadDefaults(path, Builtin())
	if err != nil {
		t.Fatalf("LoadDefaults() error: %v", err)
	}
	if cfg.Server != "imap.test.com" {
		t.Errorf("Expected server 'imap.test.com', got '%s'", cfg.Server)
	}
	if cfg.BatchSize != 25 || !cfg.Zip {
		t.Errorf("Expected batch_size 25 and zip, got %d %v", cfg.BatchSize, cfg.Zip)
	}
	if cfg.Delay != time.Second {
		t.Errorf("Expected delay 1s, got %v", cfg.Delay)
	}
	if cfg.Port != 993 || !cfg.Batch || cfg.Dir != "." {
		t.Errorf("Built-in defaults lost: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.ExcludeList(), []string{"Trash", "Junk"}) {
		t.Errorf("ExcludeList() = %v", cfg.ExcludeList())
	}
}

func TestLoadDefaultsMissingOrBroken(t *testing.T) {
	base := Builtin()
	cfg, err := LoadDefaults(filepath.Join(t.TempDir(), "nope.yaml"), base)
	if err == nil {
		t.Error("expected an error to log for a missing file")
	}
	if !reflect.DeepEqual(cfg, base) {
		t.Errorf("missing file changed config: %+v", cfg)
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("defaults: [not, a, map"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, _ = LoadDefaults(path, base)
	if !reflect.DeepEqual(cfg, base) {
		t.Errorf("broken file changed config: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	valid := func() Config {
		c := Builtin()
		c.Dir, c.Server, c.Username, c.Password = dir, "imap.example.org", "u", "p"
		return c
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		usage  bool
	}{
		{"valid", func(*Config) {}, false},
		{"no server", func(c *Config) { c.Server = "" }, true},
		{"no password", func(c *Config) { c.Password = "" }, true},
		{"include and exclude", func(c *Config) { c.Include, c.Exclude = "INBOX", "Trash" }, true},
		{"blank include does not count", func(c *Config) { c.Include, c.Exclude = " , ", "Trash" }, false},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, true},
		{"zero batch size without batching", func(c *Config) { c.BatchSize, c.Batch = 0, false }, false},
		{"missing dir", func(c *Config) { c.Dir = filepath.Join(dir, "missing") }, true},
		{"bad port", func(c *Config) { c.Port = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			var ue *UsageError
			if tt.usage != errors.As(err, &ue) {
				t.Errorf("Validate() = %v, want usage error: %v", err, tt.usage)
			}
			if !tt.usage && err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestEffectiveBatchSize(t *testing.T) {
	c := Builtin()
	if c.EffectiveBatchSize() != 10 {
		t.Errorf("EffectiveBatchSize() = %d", c.EffectiveBatchSize())
	}
	c.Batch = false
	if c.EffectiveBatchSize() != 1 {
		t.Errorf("EffectiveBatchSize() without batching = %d", c.EffectiveBatchSize())
	}
}
