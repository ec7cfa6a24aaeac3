// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sternrassler/search-harvester/pkg/client"
	"github.com/Sternrassler/search-harvester/pkg/logging"
	"github.com/Sternrassler/search-harvester/pkg/pagination"
	"github.com/Sternrassler/search-harvester/pkg/search"
	"github.com/Sternrassler/search-harvester/pkg/store"
)

// EnvPrefix prefixes every environment override, e.g. HARVESTER_SEARCH_QUERY.
const EnvPrefix = "HARVESTER"

// Config captures all harvester settings.
type Config struct {
	ConsumerKey    string `mapstructure:"consumer_key"`
	ConsumerSecret string `mapstructure:"consumer_secret"`

	// Loaded for completeness; the app-only flow never sends them.
	AppToken  string `mapstructure:"app_token"`
	AppSecret string `mapstructure:"app_secret"`

	Search  SearchConfig  `mapstructure:"search"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// SearchConfig controls the API client and the polling cadence.
type SearchConfig struct {
	Query          string        `mapstructure:"query"`
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	Interval       time.Duration `mapstructure:"interval"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	TrailingTick   bool          `mapstructure:"trailing_tick"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// StoreConfig selects the persistence back-end.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig points at a shared rate-limit state store. Empty Addr keeps
// state in memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from defaults, an optional YAML file, the environment
// and, when flags is non-nil, its "query" flag.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if f := flags.Lookup("query"); f != nil {
			if err := v.BindPFlag("search.query", f); err != nil {
				return Config{}, fmt.Errorf("bind query flag: %w", err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	clientDefaults := client.DefaultConfig("search-harvester/0.1")
	cadence := pagination.DefaultConfig()

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("consumer_key", "")
	v.SetDefault("consumer_secret", "")
	v.SetDefault("app_token", "")
	v.SetDefault("app_secret", "")

	v.SetDefault("search.query", "")
	v.SetDefault("search.base_url", clientDefaults.BaseURL)
	v.SetDefault("search.user_agent", clientDefaults.UserAgent)
	v.SetDefault("search.interval", cadence.Interval)
	v.SetDefault("search.fetch_timeout", cadence.FetchTimeout)
	v.SetDefault("search.trailing_tick", false)
	v.SetDefault("search.rate_limit", clientDefaults.RateLimit)
	v.SetDefault("search.burst", clientDefaults.Burst)
	v.SetDefault("search.max_retries", clientDefaults.MaxRetries)
	v.SetDefault("search.initial_backoff", clientDefaults.InitialBackoff)

	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.path", "ts.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", store.DefaultTable)
	v.SetDefault("store.max_conns", 4)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logging.level", string(logging.LevelInfo))
	v.SetDefault("logging.pretty", false)

	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return fmt.Errorf("consumer_key and consumer_secret are required")
	}
	if strings.TrimSpace(c.Search.Query) == "" {
		return fmt.Errorf("search.query is required")
	}
	if u, err := url.Parse(c.Search.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("search.base_url must be an absolute URL (got %q)", c.Search.BaseURL)
	}
	if c.Search.UserAgent == "" {
		return fmt.Errorf("search.user_agent is required")
	}
	if c.Search.Interval <= 0 {
		return fmt.Errorf("search.interval must be > 0")
	}
	if c.Search.FetchTimeout <= 0 {
		return fmt.Errorf("search.fetch_timeout must be > 0")
	}
	if c.Search.RateLimit < 0 {
		return fmt.Errorf("search.rate_limit must be >= 0")
	}
	if c.Search.RateLimit > 0 && c.Search.Burst < 1 {
		return fmt.Errorf("search.burst must be >= 1 when rate_limit is set")
	}
	if c.Search.MaxRetries < 0 {
		return fmt.Errorf("search.max_retries must be >= 0")
	}

	switch c.Store.Driver {
	case store.DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
		if c.Store.MaxConns <= 0 {
			return fmt.Errorf("store.max_conns must be > 0")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q (got %q)", store.DriverSQLite, store.DriverPostgres, c.Store.Driver)
	}

	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// Credentials returns the consumer credentials for the token exchange.
func (c Config) Credentials() search.Credentials {
	return search.Credentials{
		ConsumerKey:    c.ConsumerKey,
		ConsumerSecret: c.ConsumerSecret,
	}
}

// ClientConfig converts the search section into a client.Config. The caller
// sets StateStore.
func (c Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.Search.UserAgent)
	cfg.BaseURL = c.Search.BaseURL
	cfg.RateLimit = c.Search.RateLimit
	cfg.Burst = c.Search.Burst
	cfg.MaxRetries = c.Search.MaxRetries
	cfg.InitialBackoff = c.Search.InitialBackoff
	return cfg
}

// PaginationConfig converts the cadence settings.
func (c Config) PaginationConfig() pagination.Config {
	return pagination.Config{
		Interval:     c.Search.Interval,
		FetchTimeout: c.Search.FetchTimeout,
		TrailingTick: c.Search.TrailingTick,
	}
}

// StoreBackend converts the store section.
func (c Config) StoreBackend() store.Config {
	return store.Config{
		Driver:   c.Store.Driver,
		Path:     c.Store.Path,
		DSN:      c.Store.DSN,
		Table:    c.Store.Table,
		MaxConns: c.Store.MaxConns,
	}
}

// LoggerConfig converts the logging section.
func (c Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(c.Logging.Level))
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
