// Package config loads the application configuration of the escola client.
//
// Values are layered, later layers win:
//
//  1. Built-in defaults (the DefaultX constructors of each package)
//  2. An optional YAML file
//  3. ESCOLA_* environment variables
//
// Environment variables map to config paths by dropping the ESCOLA_ prefix,
// lowercasing and turning double underscores into dots:
//
//	ESCOLA_GATEWAY__BASE_URL=https://escola.example.ao  -> gateway.base_url
//	ESCOLA_STORE__DEFAULTS__STALE_AFTER=2m               -> store.defaults.stale_after
//
// A few short aliases are accepted for the most common settings, see envAliases.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"escola-client/pkg/api"
	"escola-client/pkg/escola"
	"escola-client/pkg/gateway"
	"escola-client/pkg/logging"
	"escola-client/pkg/persist"
	"escola-client/pkg/query"
	"escola-client/pkg/session"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "ESCOLA_"

// PathEnvVar names the config file explicitly.
const PathEnvVar = EnvPrefix + "CONFIG"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the complete application configuration.
type Config struct {
	Logging  logging.Config    `koanf:"logging"`
	Gateway  gateway.Config    `koanf:"gateway"`
	Store    query.StoreConfig `koanf:"store"`
	Session  SessionConfig     `koanf:"session"`
	Persist  PersistConfig     `koanf:"persist"`
	Devtools api.ServerConfig  `koanf:"devtools"`
	Metrics  MetricsConfig     `koanf:"metrics"`

	// Invalidation adds cross-entity prefixes, entity -> ["entity/scope", ...]
	Invalidation map[string][]string `koanf:"invalidation"`
}

// SessionConfig configures token storage and the session guard.
type SessionConfig struct {
	// TokenFile persists the token between CLI runs ("" keeps it in memory)
	TokenFile string `koanf:"token_file"`

	Guard session.GuardConfig `koanf:"guard"`
}

// PersistConfig configures the optional snapshot of the query store.
type PersistConfig struct {
	Enabled bool                `koanf:"enabled"`
	Redis   persist.RedisConfig `koanf:"redis"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace" validate:"required_if=Enabled true"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logging: logging.DefaultConfig(),
		Gateway: gateway.DefaultConfig(),
		Store:   query.DefaultStoreConfig(),
		Session: SessionConfig{
			TokenFile: defaultTokenFile(),
			Guard:     session.DefaultGuardConfig(),
		},
		Persist:  PersistConfig{Redis: persist.DefaultRedisConfig()},
		Devtools: api.DefaultServerConfig(),
		Metrics:  MetricsConfig{Namespace: "escola_client"},
	}
}

// DefaultPaths are searched in order when no path is given.
func DefaultPaths() []string {
	paths := []string{"escola.yaml", "escola.yml"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "escola", "config.yaml"))
	}
	return paths
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "escola", "token.json")
}

// Load builds the configuration from defaults, the YAML file at path (or
// the first of DefaultPaths that exists when path is empty) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = findFile()
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if explicit {
				return nil, fmt.Errorf("config: %w", err)
			}
		} else if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envAliases maps short variable names (without prefix) to config paths.
var envAliases = map[string]string{
	"api_url":    "gateway.base_url",
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"token_file": "session.token_file",
	"redis_addr": "persist.redis.addr",
}

// envKey maps ESCOLA_GATEWAY__BASE_URL to gateway.base_url. The config
// path variable itself is not a setting and is dropped.
func envKey(name string) string {
	if name == PathEnvVar {
		return ""
	}
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if alias, ok := envAliases[key]; ok {
		return alias
	}
	return strings.ReplaceAll(key, "__", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		errs = append(errs, err)
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Gateway.Resilience.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Store.Defaults.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store.defaults: %w", err))
	}
	if c.Store.Refresh.Workers < 0 || c.Store.Refresh.QueueSize < 0 {
		errs = append(errs, errors.New("store.refresh: negative size"))
	}
	if c.Persist.Enabled && !c.Persist.Redis.Enabled() {
		errs = append(errs, errors.New("persist: enabled without a redis address"))
	}
	for entity, prefixes := range c.Invalidation {
		for _, p := range prefixes {
			if strings.Trim(p, "/") == "" {
				errs = append(errs, fmt.Errorf("invalidation.%s: empty prefix", entity))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// TokenStore returns the token store the session settings describe.
func (c *Config) TokenStore() session.TokenStore {
	if c.Session.TokenFile == "" {
		return session.NewMemoryTokenStore("")
	}
	return session.NewFileTokenStore(c.Session.TokenFile)
}

// ClientOptions returns the escola client options for this configuration.
// Logger, metrics and subscribers are left for the caller to attach.
func (c *Config) ClientOptions() escola.Options {
	opts := escola.DefaultOptions()
	opts.Gateway = c.Gateway
	opts.Store = c.Store
	opts.Session = c.Session.Guard
	opts.ExtraPrefixes = c.Invalidation
	opts.Tokens = c.TokenStore()
	return opts
}
