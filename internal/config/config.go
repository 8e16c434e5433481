package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dusk-indust/users-mcp/internal/userstore"
	"gopkg.in/yaml.v3"
)

// Defaults applied to any field left empty in users-mcp.yml.
const (
	DefaultDataFile          = "data/users.json"
	DefaultServerName        = "users-mcp"
	DefaultLogLevel          = "info"
	DefaultSamplingMaxTokens = 1024
)

// Config holds server settings loaded from users-mcp.yml.
type Config struct {
	// DataFile is the JSON document backing the user store. Relative paths
	// are resolved against the config directory.
	DataFile   string `yaml:"dataFile,omitempty"`
	ServerName string `yaml:"serverName,omitempty"`

	// HTTPAddr switches the server from stdio to streamable HTTP when set.
	HTTPAddr string `yaml:"httpAddr,omitempty"`

	// IDPolicy is "max" (default) or "count".
	IDPolicy string `yaml:"idPolicy,omitempty"`

	LogLevel string `yaml:"logLevel,omitempty"`
	LogFile  string `yaml:"logFile,omitempty"`

	RateLimit RateLimit `yaml:"rateLimit,omitempty"`
	Sampling  Sampling  `yaml:"sampling,omitempty"`
}

// RateLimit bounds tools/call requests. A zero rate disables limiting.
type RateLimit struct {
	ToolCallsPerSecond float64 `yaml:"toolCallsPerSecond,omitempty"`
	Burst              int     `yaml:"burst,omitempty"`
}

// Sampling configures requests the server sends back to the client.
type Sampling struct {
	MaxTokens int64 `yaml:"maxTokens,omitempty"`
}

// Load attempts to read users-mcp.yml or users-mcp.yaml from the given
// directory. Returns a defaulted config (not an error) if no config file
// exists; a file that exists but cannot be read is an error.
func Load(dir string) (*Config, error) {
	cfg := &Config{}
	for _, name := range []string{"users-mcp.yml", "users-mcp.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		break
	}

	cfg.applyDefaults(dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(dir string) {
	if c.DataFile == "" {
		c.DataFile = DefaultDataFile
	}
	if !filepath.IsAbs(c.DataFile) {
		c.DataFile = filepath.Join(dir, c.DataFile)
	}
	if c.ServerName == "" {
		c.ServerName = DefaultServerName
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Sampling.MaxTokens == 0 {
		c.Sampling.MaxTokens = DefaultSamplingMaxTokens
	}
	if c.RateLimit.ToolCallsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	if _, err := userstore.ParseIDPolicy(c.IDPolicy); err != nil {
		return err
	}
	if c.RateLimit.ToolCallsPerSecond < 0 {
		return fmt.Errorf("rateLimit.toolCallsPerSecond must not be negative, got %v", c.RateLimit.ToolCallsPerSecond)
	}
	if c.Sampling.MaxTokens < 0 {
		return fmt.Errorf("sampling.maxTokens must not be negative, got %d", c.Sampling.MaxTokens)
	}
	return nil
}

// StoreIDPolicy returns the parsed IDPolicy. Call after Validate.
func (c *Config) StoreIDPolicy() userstore.IDPolicy {
	p, _ := userstore.ParseIDPolicy(c.IDPolicy)
	return p
}
