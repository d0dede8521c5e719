// Package config loads onerpc settings from the environment.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mnehpets/onerpc/log"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ONERPC"

const (
	DefaultListenAddr      = ":8080"
	DefaultRPCPath         = "/rpc"
	DefaultSession         = "default"
	DefaultMaxBodyBytes    = 1 << 20
	DefaultLogLevel        = "info"
	DefaultLogFormat       = log.FormatJSON
	DefaultMetricsPath     = "/metrics"
	DefaultSessionKeyID    = "k1"
	DefaultShutdownTimeout = 10 * time.Second

	// SessionKeySize is the decoded length of SESSION_KEY.
	SessionKeySize = 32
)

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// SessionConfig enables cookie sessions when Key is set. Key is base64url.
type SessionConfig struct {
	Key   string
	KeyID string
	// Secure marks the cookie Secure. Disable only for plain-HTTP development.
	Secure bool
}

func (s SessionConfig) Enabled() bool {
	return s.Key != ""
}

// DecodedKey returns the raw session key.
func (s SessionConfig) DecodedKey() ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s.Key, "="))
	if err != nil {
		return nil, fmt.Errorf("config: SESSION_KEY: %w", err)
	}
	if len(b) != SessionKeySize {
		return nil, fmt.Errorf("config: SESSION_KEY: want %d bytes, got %d", SessionKeySize, len(b))
	}
	return b, nil
}

// AuthConfig enables bearer authentication when Issuer is set. An empty
// JWKSURL selects OIDC discovery.
type AuthConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	Optional bool
}

func (a AuthConfig) Enabled() bool {
	return a.Issuer != ""
}

type Config struct {
	ListenAddr      string
	RPCPath         string
	DefaultSession  string
	MaxBodyBytes    int64
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	Metrics         MetricsConfig
	Session         SessionConfig
	Auth            AuthConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", DefaultListenAddr)
	v.SetDefault("RPC_PATH", DefaultRPCPath)
	v.SetDefault("DEFAULT_SESSION", DefaultSession)
	v.SetDefault("MAX_BODY_BYTES", DefaultMaxBodyBytes)
	v.SetDefault("LOG_LEVEL", DefaultLogLevel)
	v.SetDefault("LOG_FORMAT", DefaultLogFormat)
	v.SetDefault("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout)
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_PATH", DefaultMetricsPath)
	v.SetDefault("SESSION_KEY", "")
	v.SetDefault("SESSION_KEY_ID", DefaultSessionKeyID)
	v.SetDefault("SESSION_SECURE", true)
	v.SetDefault("AUTH_ISSUER", "")
	v.SetDefault("AUTH_AUDIENCE", "")
	v.SetDefault("AUTH_JWKS_URL", "")
	v.SetDefault("AUTH_OPTIONAL", false)
}

// Load reads envFiles (".env" when none are given, and only if it exists)
// into the process environment, then builds and validates a Config from
// ONERPC_* variables. Variables already set in the environment win over the
// files.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		ListenAddr:      v.GetString("LISTEN_ADDR"),
		RPCPath:         v.GetString("RPC_PATH"),
		DefaultSession:  v.GetString("DEFAULT_SESSION"),
		MaxBodyBytes:    v.GetInt64("MAX_BODY_BYTES"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       strings.ToLower(v.GetString("LOG_FORMAT")),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		CORSOrigins:     splitList(v.GetString("CORS_ORIGINS")),
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
			Path:    v.GetString("METRICS_PATH"),
		},
		Session: SessionConfig{
			Key:    v.GetString("SESSION_KEY"),
			KeyID:  v.GetString("SESSION_KEY_ID"),
			Secure: v.GetBool("SESSION_SECURE"),
		},
		Auth: AuthConfig{
			Issuer:   v.GetString("AUTH_ISSUER"),
			Audience: v.GetString("AUTH_AUDIENCE"),
			JWKSURL:  v.GetString("AUTH_JWKS_URL"),
			Optional: v.GetBool("AUTH_OPTIONAL"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: LISTEN_ADDR is required")
	}
	if !strings.HasPrefix(c.RPCPath, "/") || strings.HasSuffix(c.RPCPath, "/") {
		return fmt.Errorf("config: RPC_PATH must start and must not end with '/': %q", c.RPCPath)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: MAX_BODY_BYTES must be positive: %d", c.MaxBodyBytes)
	}
	if c.LogFormat != log.FormatJSON && c.LogFormat != log.FormatConsole {
		return fmt.Errorf("config: LOG_FORMAT must be %q or %q: %q", log.FormatJSON, log.FormatConsole, c.LogFormat)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: SHUTDOWN_TIMEOUT must not be negative: %s", c.ShutdownTimeout)
	}
	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("config: METRICS_PATH must start with '/': %q", c.Metrics.Path)
		}
		if c.Metrics.Path == c.RPCPath {
			return errors.New("config: METRICS_PATH and RPC_PATH must differ")
		}
	}

	if c.Session.Enabled() {
		if _, err := c.Session.DecodedKey(); err != nil {
			return err
		}
		if c.Session.KeyID == "" || strings.Contains(c.Session.KeyID, ".") {
			return fmt.Errorf("config: SESSION_KEY_ID must be non-empty and must not contain '.': %q", c.Session.KeyID)
		}
	}

	a := c.Auth
	if (a.Issuer == "") != (a.Audience == "") {
		return errors.New("config: AUTH_ISSUER and AUTH_AUDIENCE must be set together")
	}
	if !a.Enabled() && (a.JWKSURL != "" || a.Optional) {
		return errors.New("config: AUTH_JWKS_URL and AUTH_OPTIONAL require AUTH_ISSUER")
	}
	return nil
}
