// Package config holds the run configuration. It is built once at startup
// from built-in defaults, an optional YAML defaults file and command line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is every recognized option.
type Config struct {
	Dir           string        `yaml:"dir"`
	Server        string        `yaml:"server"`
	Port          int           `yaml:"port"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Include       string        `yaml:"include"` // comma separated, case-sensitive
	Exclude       string        `yaml:"exclude"`
	All           bool          `yaml:"all"`
	Batch         bool          `yaml:"batch"`
	BatchSize     int           `yaml:"batch_size"`
	DryRun        bool          `yaml:"dry_run"`
	ListMailboxes bool          `yaml:"list_mailboxes"`
	Zip           bool          `yaml:"zip"`
	StartTLS      bool          `yaml:"starttls"`
	Insecure      bool          `yaml:"insecure"`
	Delay         time.Duration `yaml:"delay"`
	Timeout       time.Duration `yaml:"timeout"`
	Report        string        `yaml:"report"`
}

type file struct {
	Defaults Config `yaml:"defaults"`
}

// Builtin returns the defaults used when neither file nor flags say otherwise.
func Builtin() Config {
	return Config{
		Dir:       ".",
		Port:      993,
		Batch:     true,
		BatchSize: 10,
		Delay:     200 * time.Millisecond,
		Timeout:   60 * time.Second,
	}
}

// LoadDefaults overlays the "defaults" section of the YAML file at path onto
// base. A missing, unreadable or malformed file leaves base untouched; the
// error is returned for logging only.
func LoadDefaults(path string, base Config) (Config, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	f := file{Defaults: base}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return base, err
	}
	return f.Defaults, nil
}

// UsageError is a problem with the supplied options rather than with the run.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.Server == "" || c.Username == "" || c.Password == "" {
		return &UsageError{"--server, --username, --password can't be empty"}
	}
	if len(c.IncludeList()) > 0 && len(c.ExcludeList()) > 0 {
		return &UsageError{"--include and --exclude are mutually exclusive"}
	}
	if c.Batch && c.BatchSize < 1 {
		return &UsageError{fmt.Sprintf("--batch-size must be at least 1, got %d", c.BatchSize)}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &UsageError{fmt.Sprintf("invalid --port %d", c.Port)}
	}
	return c.checkDir()
}

func (c *Config) checkDir() error {
	fi, err := os.Stat(c.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &UsageError{fmt.Sprintf("dir: %s is not a valid path", c.Dir)}
		}
		return err
	}
	if !fi.IsDir() {
		return &UsageError{fmt.Sprintf("dir: %s is not a directory", c.Dir)}
	}
	return nil
}

// EffectiveBatchSize is BatchSize, or 1 when batching is disabled.
func (c *Config) EffectiveBatchSize() int {
	if !c.Batch {
		return 1
	}
	return c.BatchSize
}

func (c *Config) IncludeList() []string { return splitList(c.Include) }
func (c *Config) ExcludeList() []string { return splitList(c.Exclude) }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
