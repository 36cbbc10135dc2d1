// Package config loads service configuration from YAML with TELEMETRA_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "TELEMETRA_"

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// Config is the root configuration structure.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Auth     AuthConfig     `yaml:"auth"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// HTTPConfig configures the REST listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GRPCConfig configures the gRPC listener. An empty Addr disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig contains PostgreSQL settings. An empty DSN selects the
// in-memory store, which is only suitable for development.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// LedgerConfig selects where revoked refresh tokens are recorded.
type LedgerConfig struct {
	Backend       string        `yaml:"backend"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AuthConfig contains token settings.
type AuthConfig struct {
	SigningKey string        `yaml:"signing_key"`
	Algorithm  string        `yaml:"algorithm"`
	Issuer     string        `yaml:"issuer"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

// SecurityConfig contains HTTP hardening settings.
type SecurityConfig struct {
	CORSOrigins  []string        `yaml:"cors_origins"`
	MaxBodyBytes int64           `yaml:"max_body_bytes"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`

	// TrustedProxies lists addresses or CIDRs whose X-Forwarded-For header
	// is believed. Empty means the peer address is always the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become
// single-host prefixes.
func (s SecurityConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// RateLimitConfig limits authentication endpoints per client IP.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio"`
	LogSpans    bool    `yaml:"log_spans"`
}

// Load reads configuration in three layers: defaults, the YAML file at path
// (skipped when path is empty) and TELEMETRA_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with development defaults. The signing key is
// left empty and must be supplied.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Ledger: LedgerConfig{
			Backend:       LedgerMemory,
			PurgeInterval: 10 * time.Minute,
			Redis:         RedisConfig{Prefix: "telemetra:revoked:"},
		},
		Auth: AuthConfig{
			Algorithm:  "HS256",
			Issuer:     "telemetra",
			AccessTTL:  30 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Security: SecurityConfig{
			MaxBodyBytes: 1 << 20,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SampleRatio: 0.1,
		},
	}
}

type lookupFunc func(string) (string, bool)

// applyEnvOverrides applies TELEMETRA_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("GRPC_ADDR", &cfg.GRPC.Addr)

	str("DATABASE_DSN", &cfg.Database.DSN)
	integer("DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	boolean("DATABASE_AUTO_MIGRATE", &cfg.Database.AutoMigrate)

	str("LEDGER_BACKEND", &cfg.Ledger.Backend)
	dur("LEDGER_PURGE_INTERVAL", &cfg.Ledger.PurgeInterval)
	str("REDIS_ADDR", &cfg.Ledger.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Ledger.Redis.Password)
	integer("REDIS_DB", &cfg.Ledger.Redis.DB)

	str("AUTH_SIGNING_KEY", &cfg.Auth.SigningKey)
	str("AUTH_ALGORITHM", &cfg.Auth.Algorithm)
	str("AUTH_ISSUER", &cfg.Auth.Issuer)
	dur("AUTH_ACCESS_TTL", &cfg.Auth.AccessTTL)
	dur("AUTH_REFRESH_TTL", &cfg.Auth.RefreshTTL)

	list := func(key string, dst *[]string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			var items []string
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			*dst = items
		}
	}
	list("CORS_ORIGINS", &cfg.Security.CORSOrigins)
	list("TRUSTED_PROXIES", &cfg.Security.TrustedProxies)
	boolean("RATE_LIMIT_ENABLED", &cfg.Security.RateLimit.Enabled)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	boolean("TRACING_ENABLED", &cfg.Tracing.Enabled)

	return errors.Join(errs...)
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required")
	}

	const minSigningKeyLength = 32
	if c.Auth.SigningKey == "" {
		errs = append(errs, "auth.signing_key is required (set TELEMETRA_AUTH_SIGNING_KEY)")
	} else if len(c.Auth.SigningKey) < minSigningKeyLength {
		errs = append(errs, "auth.signing_key must be at least 32 characters")
	}
	switch c.Auth.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, "auth.algorithm must be HS256, HS384 or HS512")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, "auth.access_ttl and auth.refresh_ttl must be positive")
	} else if c.Auth.AccessTTL >= c.Auth.RefreshTTL {
		errs = append(errs, "auth.access_ttl must be shorter than auth.refresh_ttl")
	}

	switch c.Ledger.Backend {
	case LedgerMemory:
	case LedgerPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, "ledger.backend postgres requires database.dsn")
		}
	case LedgerRedis:
		if c.Ledger.Redis.Addr == "" {
			errs = append(errs, "ledger.backend redis requires ledger.redis.addr")
		}
	default:
		errs = append(errs, "ledger.backend must be memory, postgres or redis")
	}

	if c.Security.MaxBodyBytes <= 0 {
		errs = append(errs, "security.max_body_bytes must be positive")
	}
	if rl := c.Security.RateLimit; rl.Enabled && (rl.RPS <= 0 || rl.Burst <= 0) {
		errs = append(errs, "security.rate_limit.rps and burst must be positive when enabled")
	}
	if _, err := c.Security.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, "security.trusted_proxies: "+err.Error())
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		errs = append(errs, "logging.format must be json or console")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sample_ratio must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
