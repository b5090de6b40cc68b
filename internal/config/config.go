package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all aichat configuration.
type Config struct {
	// Remote backend the client talks to
	Server ServerConfig `yaml:"server"`

	// Conversation behavior
	Chat ChatConfig `yaml:"chat"`

	// Credential storage
	Auth AuthConfig `yaml:"auth"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Reference backend served by `aichat serve`
	Backend BackendConfig `yaml:"backend"`
}

// ServerConfig configures the Session Directory and the live connection.
type ServerConfig struct {
	BaseURL          string `yaml:"base_url"`
	RequestTimeout   string `yaml:"request_timeout"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	WriteTimeout     string `yaml:"write_timeout"`

	// Attach the bearer token to the WebSocket handshake.
	WSAuth bool `yaml:"ws_auth"`
}

// ChatConfig configures the orchestrator.
type ChatConfig struct {
	// How long to wait for a reply before failing the pending message. "0" waits forever.
	ReplyTimeout string `yaml:"reply_timeout"`
	DefaultTitle string `yaml:"default_title"`
}

// AuthConfig configures where the bearer token is persisted.
type AuthConfig struct {
	TokenFile string `yaml:"token_file"`
}

// BackendConfig configures the reference backend.
type BackendConfig struct {
	Listen         string            `yaml:"listen"`
	DatabasePath   string            `yaml:"database_path"`   // empty = in-memory store
	DatabaseDriver string            `yaml:"database_driver"` // sqlite (pure Go) or sqlite3 (cgo)
	MaxConnections int               `yaml:"max_connections"` // 0 = unlimited
	ReplyTimeout   string            `yaml:"reply_timeout"`   // per responder call
	Tokens         map[string]string `yaml:"tokens"`          // bearer token -> user name
	Responder      string            `yaml:"responder"`       // echo, gemini, openai
	Gemini         ModelConfig       `yaml:"gemini"`
	OpenAI         ModelConfig       `yaml:"openai"`
}

// ModelConfig configures a hosted model responder.
type ModelConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// ValidResponders lists the responders the reference backend knows.
var ValidResponders = []string{"echo", "gemini", "openai"}

// ValidDatabaseDrivers lists the SQL drivers the reference backend can open.
var ValidDatabaseDrivers = []string{"sqlite", "sqlite3"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:          "http://localhost:8000",
			RequestTimeout:   "30s",
			HandshakeTimeout: "10s",
			WriteTimeout:     "10s",
		},

		Chat: ChatConfig{
			ReplyTimeout: "120s",
			DefaultTitle: "New Chat",
		},

		Auth: AuthConfig{
			TokenFile: filepath.Join(defaultDir(), "credentials.yaml"),
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},

		Backend: BackendConfig{
			Listen:         ":8000",
			DatabaseDriver: "sqlite",
			ReplyTimeout:   "120s",
			Responder:      "echo",
			Gemini: ModelConfig{
				Model: "gemini-2.5-flash",
			},
			OpenAI: ModelConfig{
				Model: "gpt-3.5-turbo",
			},
		},
	}
}

// defaultDir returns the per-user aichat directory.
func defaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".aichat"
	}
	return filepath.Join(dir, "aichat")
}

// DefaultConfigPath returns the default location of config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(defaultDir(), "config.yaml")
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
// AICHAT_TOKEN is read by the credential layer, not here.
func (c *Config) applyEnvOverrides() {
	if u := os.Getenv("AICHAT_SERVER_URL"); u != "" {
		c.Server.BaseURL = u
	}
	if d := os.Getenv("AICHAT_REPLY_TIMEOUT"); d != "" {
		c.Chat.ReplyTimeout = d
	}
	if lvl := os.Getenv("AICHAT_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if path := os.Getenv("AICHAT_DB"); path != "" {
		c.Backend.DatabasePath = path
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Backend.Gemini.APIKey = key
		if c.Backend.Responder == "" || c.Backend.Responder == "echo" {
			c.Backend.Responder = "gemini"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Backend.OpenAI.APIKey = key
		if c.Backend.Responder == "" || c.Backend.Responder == "echo" {
			c.Backend.Responder = "openai"
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetRequestTimeout returns the Session Directory request timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.Server.RequestTimeout, 30*time.Second)
}

// GetHandshakeTimeout returns the WebSocket handshake timeout.
func (c *Config) GetHandshakeTimeout() time.Duration {
	return parseDuration(c.Server.HandshakeTimeout, 10*time.Second)
}

// GetWriteTimeout returns the per-frame write deadline.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 10*time.Second)
}

// GetReplyTimeout returns the reply timeout. Zero means wait forever.
func (c *Config) GetReplyTimeout() time.Duration {
	return parseDuration(c.Chat.ReplyTimeout, 120*time.Second)
}

// GetBackendReplyTimeout returns the per-call responder timeout of the reference backend.
func (c *Config) GetBackendReplyTimeout() time.Duration {
	return parseDuration(c.Backend.ReplyTimeout, 120*time.Second)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid server base_url: %q", c.Server.BaseURL)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("server base_url must be http or https, got %q", u.Scheme)
	}

	durations := map[string]string{
		"server.request_timeout":   c.Server.RequestTimeout,
		"server.handshake_timeout": c.Server.HandshakeTimeout,
		"server.write_timeout":     c.Server.WriteTimeout,
		"chat.reply_timeout":       c.Chat.ReplyTimeout,
		"backend.reply_timeout":    c.Backend.ReplyTimeout,
	}
	for name, v := range durations {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", name)
		}
	}

	validResponder := false
	for _, r := range ValidResponders {
		if c.Backend.Responder == r {
			validResponder = true
			break
		}
	}
	if !validResponder {
		return fmt.Errorf("invalid backend responder: %s (valid: %v)", c.Backend.Responder, ValidResponders)
	}

	if c.Backend.DatabaseDriver != "" {
		validDriver := false
		for _, d := range ValidDatabaseDrivers {
			if c.Backend.DatabaseDriver == d {
				validDriver = true
				break
			}
		}
		if !validDriver {
			return fmt.Errorf("invalid backend database_driver: %s (valid: %v)", c.Backend.DatabaseDriver, ValidDatabaseDrivers)
		}
	}
	if c.Backend.MaxConnections < 0 {
		return fmt.Errorf("backend max_connections must not be negative")
	}

	return nil
}
