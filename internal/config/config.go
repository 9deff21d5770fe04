// Package config loads gateway settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
//
// Environment variables:
//   - VALID_API_KEYS: comma separated keys accepted by the admin API
//   - DISABLE_AUTH: "true" or "1" disables admin API key verification
//   - STRIPE_API_KEY, STRIPE_SUBSCRIPTION_ITEM: metered usage reporting
//   - VERCEL_PROJECT_ID, VERCEL_ORG_ID: project used for oidc sessions
//   - AI_GATEWAY_ADDR, AI_GATEWAY_LOG_LEVEL, AI_GATEWAY_SECRETS_BACKEND,
//     AI_GATEWAY_SECRETS_PATH, AI_GATEWAY_REFRESH_WINDOW,
//     AI_GATEWAY_TOKEN_CACHE_SIZE, AI_GATEWAY_VERCEL_BASE_URL,
//     AI_GATEWAY_VERCEL_AUTH_PATH
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"ai-gateway/internal/oidc"
	"ai-gateway/internal/tokens"
	"ai-gateway/internal/usage"
)

// Secret store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendFile   = "file"
)

// Config is the complete gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Secrets  SecretsConfig  `yaml:"secrets"`
	Sessions SessionsConfig `yaml:"sessions"`
	Vercel   VercelConfig   `yaml:"vercel"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Limits   usage.Table    `yaml:"limits"`
	Stripe   StripeConfig   `yaml:"stripe"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig guards the admin HTTP API.
type AuthConfig struct {
	ValidAPIKeys []string `yaml:"valid_api_keys"`
	Disabled     bool     `yaml:"disabled"`
}

// SecretsConfig selects where sessions are persisted.
type SecretsConfig struct {
	Backend string `yaml:"backend"`
	// Path is the badger directory or the JSON file, depending on Backend.
	Path string `yaml:"path"`
}

// SessionsConfig tunes the session store.
type SessionsConfig struct {
	RefreshWindow time.Duration `yaml:"refresh_window"`
}

// VercelConfig configures the identity delegate.
type VercelConfig struct {
	BaseURL   string        `yaml:"base_url"`
	AuthPath  string        `yaml:"auth_path"`
	ProjectID string        `yaml:"project_id"`
	TeamID    string        `yaml:"team_id"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TokensConfig tunes the token estimator.
type TokensConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// StripeConfig enables metered billing when APIKey is set.
type StripeConfig struct {
	APIKey           string `yaml:"api_key"`
	SubscriptionItem string `yaml:"subscription_item"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Secrets: SecretsConfig{
			Backend: BackendFile,
			Path:    defaultSecretsPath(),
		},
		Sessions: SessionsConfig{RefreshWindow: 5 * time.Minute},
		Vercel: VercelConfig{
			BaseURL: oidc.DefaultBaseURL,
			Timeout: 30 * time.Second,
		},
		Tokens:   TokensConfig{CacheSize: tokens.DefaultCacheSize},
		Limits:   usage.DefaultLimits(),
		LogLevel: "info",
	}
}

func defaultSecretsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".ai-gateway", "secrets.json")
	}
	return filepath.Join(dir, "ai-gateway", "secrets.json")
}

// Load reads the YAML file at path, when path is not empty, and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides c with every variable getenv knows.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("VALID_API_KEYS"); v != "" {
		c.Auth.ValidAPIKeys = splitList(v)
	}
	if v := getenv("DISABLE_AUTH"); v != "" {
		c.Auth.Disabled = v == "true" || v == "1"
	}
	if v := getenv("STRIPE_API_KEY"); v != "" {
		c.Stripe.APIKey = v
	}
	if v := getenv("STRIPE_SUBSCRIPTION_ITEM"); v != "" {
		c.Stripe.SubscriptionItem = v
	}
	if v := getenv("VERCEL_PROJECT_ID"); v != "" {
		c.Vercel.ProjectID = v
	}
	if v := getenv("VERCEL_ORG_ID"); v != "" {
		c.Vercel.TeamID = v
	}
	if v := getenv("AI_GATEWAY_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("AI_GATEWAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("AI_GATEWAY_SECRETS_BACKEND"); v != "" {
		c.Secrets.Backend = v
	}
	if v := getenv("AI_GATEWAY_SECRETS_PATH"); v != "" {
		c.Secrets.Path = v
	}
	if v := getenv("AI_GATEWAY_VERCEL_BASE_URL"); v != "" {
		c.Vercel.BaseURL = v
	}
	if v := getenv("AI_GATEWAY_VERCEL_AUTH_PATH"); v != "" {
		c.Vercel.AuthPath = v
	}
	if v := getenv("AI_GATEWAY_REFRESH_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AI_GATEWAY_REFRESH_WINDOW: %w", err)
		}
		c.Sessions.RefreshWindow = d
	}
	if v := getenv("AI_GATEWAY_TOKEN_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AI_GATEWAY_TOKEN_CACHE_SIZE: %w", err)
		}
		c.Tokens.CacheSize = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Secrets.Backend {
	case BackendMemory:
	case BackendBadger, BackendFile:
		if c.Secrets.Path == "" {
			return fmt.Errorf("secrets.path is required for the %s backend", c.Secrets.Backend)
		}
	default:
		return fmt.Errorf("unknown secrets backend %q", c.Secrets.Backend)
	}
	if c.Sessions.RefreshWindow < 0 {
		return errors.New("sessions.refresh_window must not be negative")
	}
	if c.Tokens.CacheSize < 0 {
		return errors.New("tokens.cache_size must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// LinkedProject returns the project configured through VERCEL_PROJECT_ID
// and VERCEL_ORG_ID, if any.
func (c *Config) LinkedProject() oidc.Project {
	return oidc.Project{ProjectID: c.Vercel.ProjectID, TeamID: c.Vercel.TeamID}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadEnvFile loads the first .env file found in dir or one of its
// parents and returns its path. Variables already set in the environment
// win. An empty path means no file was found.
func LoadEnvFile(dir string, log logrus.FieldLogger) string {
	if log == nil {
		log = logrus.StandardLogger()
	}
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				log.WithError(err).WithField("path", envPath).Warn("failed to load .env file")
				return ""
			}
			log.WithField("path", envPath).Debug("loaded environment variables from .env file")
			return envPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	log.Debug("no .env file found, using existing environment variables")
	return ""
}
