// Package config loads runtime settings from environment variables and an
// optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"portfolio-bff/internal/common"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every derived environment variable name,
// e.g. cache.backend -> PORTFOLIO_CACHE_BACKEND.
const EnvPrefix = "PORTFOLIO"

// Cache backends.
const (
	BackendMinio    = "minio"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendNone     = "none"
)

type GitHub struct {
	Token             string        `mapstructure:"token"`
	Username          string        `mapstructure:"username"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type Minio struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

type SQLite struct {
	Path string `mapstructure:"path"`
}

type Cache struct {
	Enabled  bool          `mapstructure:"enabled"`
	Backend  string        `mapstructure:"backend"`
	TTL      time.Duration `mapstructure:"ttl"`
	Minio    Minio         `mapstructure:"minio"`
	Postgres Postgres      `mapstructure:"postgres"`
	SQLite   SQLite        `mapstructure:"sqlite"`
}

type Aggregator struct {
	Concurrency         int           `mapstructure:"concurrency"`
	RepoTimeout         time.Duration `mapstructure:"repo_timeout"`
	ScanSubdirManifests bool          `mapstructure:"scan_subdir_manifests"`
}

type LLM struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	GroqAPIKey   string `mapstructure:"groq_api_key"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level string `mapstructure:"level"`
	Dev   bool   `mapstructure:"dev"`
}

// Config is the full runtime configuration.
type Config struct {
	GitHub     GitHub     `mapstructure:"github"`
	Cache      Cache      `mapstructure:"cache"`
	Aggregator Aggregator `mapstructure:"aggregator"`
	LLM        LLM        `mapstructure:"llm"`
	Server     Server     `mapstructure:"server"`
	Log        Log        `mapstructure:"log"`
}

// SetDefaults registers default values on v. Every key needs a default,
// otherwise Unmarshal does not see its environment variable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("github.username", "yungryce")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.timeout", 10*time.Second)
	v.SetDefault("github.requests_per_second", 0)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", BackendSQLite)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.minio.endpoint", "")
	v.SetDefault("cache.minio.bucket", "github-cache")
	v.SetDefault("cache.minio.use_ssl", true)
	v.SetDefault("cache.minio.prefix", "")
	v.SetDefault("cache.postgres.dsn", "")
	v.SetDefault("cache.sqlite.path", "portfolio-cache.db")

	v.SetDefault("aggregator.concurrency", 5)
	v.SetDefault("aggregator.repo_timeout", 30*time.Second)
	v.SetDefault("aggregator.scan_subdir_manifests", false)

	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.model", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dev", false)
}

// bindings maps keys to the unprefixed variables deployments already use.
var bindings = map[string][]string{
	"github.token":           {"PORTFOLIO_GITHUB_TOKEN", "GITHUB_TOKEN"},
	"llm.groq_api_key":       {"PORTFOLIO_LLM_GROQ_API_KEY", "GROQ_API_KEY"},
	"llm.gemini_api_key":     {"PORTFOLIO_LLM_GEMINI_API_KEY", "GEMINI_API_KEY"},
	"cache.minio.access_key": {"PORTFOLIO_CACHE_MINIO_ACCESS_KEY", "MINIO_ACCESS_KEY"},
	"cache.minio.secret_key": {"PORTFOLIO_CACHE_MINIO_SECRET_KEY", "MINIO_SECRET_KEY"},
}

// Load reads configuration from v. Environment variables override the config
// file, which overrides defaults.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, common.WrapError(common.ErrCodeConfiguration, "bind env "+key, err)
		}
	}

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, common.WrapError(common.ErrCodeConfiguration, "read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, common.WrapError(common.ErrCodeConfiguration, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
// A missing GitHub token or LLM key is not an error: the affected
// capabilities report CONFIGURATION_ERROR when used.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GitHub.Username) == "" {
		return invalid("github.username must not be empty")
	}
	if c.GitHub.Timeout <= 0 {
		return invalid("github.timeout must be positive")
	}
	if c.GitHub.RequestsPerSecond < 0 {
		return invalid("github.requests_per_second must not be negative")
	}
	if c.Aggregator.Concurrency < 1 {
		return invalid("aggregator.concurrency must be at least 1")
	}
	if c.Aggregator.RepoTimeout <= 0 {
		return invalid("aggregator.repo_timeout must be positive")
	}
	if c.Cache.TTL <= 0 {
		return invalid("cache.ttl must be positive")
	}

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case BackendMinio:
			if c.Cache.Minio.Endpoint == "" || c.Cache.Minio.Bucket == "" {
				return invalid("cache.minio.endpoint and cache.minio.bucket are required for the minio backend")
			}
		case BackendPostgres:
			if c.Cache.Postgres.DSN == "" {
				return invalid("cache.postgres.dsn is required for the postgres backend")
			}
		case BackendSQLite:
			if c.Cache.SQLite.Path == "" {
				return invalid("cache.sqlite.path is required for the sqlite backend")
			}
		case BackendNone:
		default:
			return invalid(fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
		}
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "groq", "gemini":
	default:
		return invalid(fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}
	return nil
}

// Active reports whether a cache backend should be opened.
func (c Cache) Active() bool {
	return c.Enabled && c.Backend != BackendNone
}

func invalid(msg string) error {
	return common.NewError(common.ErrCodeConfiguration, msg)
}
