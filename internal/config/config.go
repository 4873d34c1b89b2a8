// Package config provides configuration management for the llmgate proxy.
// It loads a YAML document describing server, rotation and persistence
// settings, then applies LLMGATE_-prefixed environment overrides on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`
	// AuthDir is the directory where credential files are stored.
	AuthDir string `yaml:"auth-dir"`
	// LogDir is the directory request/error logs are written to.
	LogDir string `yaml:"log-dir"`
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
	// ProxyURL is an optional outbound proxy (http/https/socks5) used for all upstream calls.
	ProxyURL string `yaml:"proxy-url"`
	// Password authenticates non-admin ingress requests (bearer token).
	Password string `yaml:"password"`
	// AdminPassword authenticates admin routes.
	AdminPassword string `yaml:"admin-password"`

	Rotation    Rotation    `yaml:"rotation"`
	Persistence Persistence `yaml:"persistence"`
	Cache       CacheConfig `yaml:"response-cache"`
	Streaming   Streaming   `yaml:"streaming"`
	Vertex      VertexConfig `yaml:"vertex"`
	Gemini      GeminiConfig `yaml:"gemini"`
	ClaudeWeb   ClaudeWebConfig `yaml:"claude-web"`

	// RequestLog enables full request/response body logging to LogDir.
	RequestLog bool `yaml:"request-log"`
}

// Rotation controls which Valid credentials are eligible for lease.
type Rotation struct {
	SkipNonPro       bool `yaml:"skip-non-pro"`
	SkipRestricted   bool `yaml:"skip-restricted"`
	SkipFirstWarning bool `yaml:"skip-first-warning"`
	SkipSecondWarning bool `yaml:"skip-second-warning"`
	SkipNormalPro    bool `yaml:"skip-normal-pro"`
	SkipRateLimit    bool `yaml:"skip-rate-limit"`
	MaxRetries       int  `yaml:"max-retries"`
	LeaseTimeoutSec  int  `yaml:"lease-timeout-seconds"`
}

// Persistence selects and configures the credential store backend.
type Persistence struct {
	// Mode is "toml" or "sql".
	Mode       string `yaml:"mode"`
	TOMLPath   string `yaml:"toml-path"`
	SQLDriver  string `yaml:"sql-driver"`
	SQLitePath string `yaml:"sqlite-path"`
}

// CacheConfig configures the fingerprint response cache.
type CacheConfig struct {
	Enabled           bool `yaml:"enabled"`
	TTLSeconds        int  `yaml:"ttl-seconds"`
	MaxEntries        int  `yaml:"max-entries"`
	ExcludeSystem     bool `yaml:"exclude-system-prompt"`
	ExcludeLastNTurns int  `yaml:"exclude-last-n-messages"`
}

// Streaming configures the SSE pipeline.
type Streaming struct {
	KeepAliveIntervalSeconds int `yaml:"keep-alive-interval-seconds"`
}

// VertexConfig carries per-project region/publisher endpoint overrides.
type VertexConfig struct {
	Locations map[string]string `yaml:"locations"`
}

// SafetySetting configures one Gemini safety category/threshold pair,
// applied to the native Gemini/Vertex path only, never the OpenAI-compat route.
type SafetySetting struct {
	Category  string `yaml:"category"`
	Threshold string `yaml:"threshold"`
}

// GeminiConfig configures the Gemini/Vertex transactor.
type GeminiConfig struct {
	Safety []SafetySetting `yaml:"safety"`
}

// ClaudeWebConfig configures the Claude.ai web cookie transactor.
type ClaudeWebConfig struct {
	PreserveChats         bool   `yaml:"preserve-chats"`
	SkipFreeOrganizations bool   `yaml:"skip-free-organizations"`
	HumanMarker           string `yaml:"human-marker"`
	AssistantMarker       string `yaml:"assistant-marker"`
	PadPrefix             string `yaml:"pad-prefix"`
}

// TTL returns the configured cache TTL, defaulting to five minutes.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// LeaseTimeout returns the configured max lease duration, defaulting to 120s.
func (r Rotation) LeaseTimeout() time.Duration {
	if r.LeaseTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(r.LeaseTimeoutSec) * time.Second
}

// LoadConfig reads a YAML configuration file from the given path, unmarshals
// it into a Config struct, and applies environment overrides.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Port:    8317,
		AuthDir: "auths",
		LogDir:  "logs",
		Rotation: Rotation{
			MaxRetries:      3,
			LeaseTimeoutSec: 120,
		},
		Persistence: Persistence{
			Mode:     "toml",
			TOMLPath: "credentials.toml",
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTLSeconds: 300,
			MaxEntries: 2048,
		},
		Streaming: Streaming{
			KeepAliveIntervalSeconds: 15,
		},
	}
}
