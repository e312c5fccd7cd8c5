package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the file FindConfig looks for.
const ConfigFileName = "hotreload.yaml"

// Config represents the top-level hotreload.yaml configuration.
type Config struct {
	// Root is the URI of the root library (the one holding main).
	Root string `yaml:"root"`

	// Sources is the directory holding one YAML document per library.
	// Relative paths are resolved against the config file directory.
	Sources string `yaml:"sources"`

	// Journal is the path of the SQLite reload journal. Empty disables it.
	Journal string `yaml:"journal,omitempty"`

	// HeapLimit caps the number of live object slots. 0 means unlimited.
	HeapLimit int `yaml:"heap_limit,omitempty"`

	// LogLevel is the logr verbosity (0 = info, 1 = phase tracing).
	LogLevel int `yaml:"log_level,omitempty"`

	// Metrics enables the Prometheus collectors.
	Metrics bool `yaml:"metrics,omitempty"`

	// DebuggableDefault is the initial debuggable flag of new libraries.
	// Defaults to true when omitted.
	DebuggableDefault *bool `yaml:"debuggable_default,omitempty"`

	// Entry is the function invoked by `hotreload run`. Defaults to main.
	Entry string `yaml:"entry,omitempty"`
}

// LoadConfig reads and parses a hotreload.yaml file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses hotreload.yaml content from bytes.
// The path argument is used for error messages and relative path resolution.
func ParseConfig(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	cfg.setDefaults(path)
	return &cfg, nil
}

// FindConfig searches for hotreload.yaml starting from dir and walking up
// to parent directories.
// Returns the path to the config file and nil error if found,
// or empty string and nil error if not found.
func FindConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		candidate = filepath.Join(dir, "hotreload.yml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Debuggable reports the configured initial debuggable flag.
func (c *Config) Debuggable() bool {
	if c.DebuggableDefault == nil {
		return true
	}
	return *c.DebuggableDefault
}

func (c *Config) validate(path string) error {
	if c.Root == "" {
		return fmt.Errorf("%s: root is required", path)
	}
	if c.Sources == "" {
		return fmt.Errorf("%s: sources is required", path)
	}
	if c.HeapLimit < 0 {
		return fmt.Errorf("%s: heap_limit must not be negative (got %d)", path, c.HeapLimit)
	}
	if c.LogLevel < 0 {
		return fmt.Errorf("%s: log_level must not be negative (got %d)", path, c.LogLevel)
	}
	return nil
}

func (c *Config) setDefaults(path string) {
	if c.Entry == "" {
		c.Entry = "main"
	}
	dir := filepath.Dir(path)
	if !filepath.IsAbs(c.Sources) {
		c.Sources = filepath.Join(dir, c.Sources)
	}
	if c.Journal != "" && c.Journal != ":memory:" && !filepath.IsAbs(c.Journal) {
		c.Journal = filepath.Join(dir, c.Journal)
	}
}
