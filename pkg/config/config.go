// Package config loads the cache proxy configuration from a YAML file and
// the environment.
//
// Precedence per field: value in the file (or set programmatically) >
// environment variable > hard default.
//
// Example file:
//
//	entries:
//	  - filter: GetUser
//	    ttl: 60
//	  - pattern: ^List
//	ttl: 300
//	enableHeader: true
//	enableQuery: true
//	redis:
//	  host: redis.internal
//	upstream:
//	  url: http://graphql.internal:4000/graphql
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/gql-response-cache/pkg/cache"
	"github.com/Sternrassler/gql-response-cache/pkg/client"
	"github.com/Sternrassler/gql-response-cache/pkg/eligibility"
	"github.com/Sternrassler/gql-response-cache/pkg/logging"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Hard defaults.
const (
	DefaultRedisHost      = "localhost"
	DefaultRedisPort      = 6379
	DefaultConnectTimeout = 20 * time.Second
	DefaultListenAddr     = ":8080"
	DefaultFingerprint    = "digest"

	// writeTimeoutSlack covers store round trips around the upstream call.
	writeTimeoutSlack = 5 * time.Second
)

// Entry is one eligibility rule. Exactly one of Filter (exact operation
// name) and Pattern (regular expression) is set. TTL is in seconds; zero
// falls back to the global TTL.
type Entry struct {
	Filter  string `yaml:"filter"`
	Pattern string `yaml:"pattern"`
	TTL     int    `yaml:"ttl"`
}

// RedisConfig holds the store connection parameters.
type RedisConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
}

// UpstreamConfig holds the GraphQL server the proxy forwards to.
type UpstreamConfig struct {
	URL       string        `yaml:"url"`
	UserAgent string        `yaml:"userAgent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ServerConfig holds the proxy listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PollConfig tunes the wait for a concurrent computation.
type PollConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Timeout    time.Duration `yaml:"timeout"`
	LoadingTTL time.Duration `yaml:"loadingTTL"`
}

// Config is the complete proxy configuration.
type Config struct {
	Entries      []Entry        `yaml:"entries"`
	TTL          int            `yaml:"ttl"`
	EnableHeader bool           `yaml:"enableHeader"`
	EnableQuery  bool           `yaml:"enableQuery"`
	Fingerprint  string         `yaml:"fingerprint"`
	Redis        RedisConfig    `yaml:"redis"`
	Upstream     UpstreamConfig `yaml:"upstream"`
	Server       ServerConfig   `yaml:"server"`
	Poll         PollConfig     `yaml:"poll"`
	Log          logging.Config `yaml:"log"`
}

// Default returns the hard defaults.
func Default() Config {
	return Config{
		Fingerprint: DefaultFingerprint,
		Redis: RedisConfig{
			Host:           DefaultRedisHost,
			Port:           DefaultRedisPort,
			ConnectTimeout: DefaultConnectTimeout,
		},
		Upstream: UpstreamConfig{
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Addr:            DefaultListenAddr,
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Poll: PollConfig{
			Interval:   cache.DefaultPollInterval,
			Timeout:    cache.DefaultPollTimeout,
			LoadingTTL: cache.DefaultLoadingTTL,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads path (optional) on top of the environment and defaults, then
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on cfg.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("REDIS_HOST"); ok && v != "" {
		c.Redis.Host = v
	}
	if v, ok := lookup("REDIS_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: REDIS_PORT: %v", ErrInvalidConfig, err)
		}
		c.Redis.Port = port
	}
	if v, ok := lookup("REDIS_USERNAME"); ok && v != "" {
		c.Redis.Username = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok && v != "" {
		c.Redis.Password = v
	}
	if v, ok := lookup("REDIS_CONNECT_TIMEOUT"); ok && v != "" {
		timeout, err := parseMillis(v)
		if err != nil {
			return fmt.Errorf("%w: REDIS_CONNECT_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		c.Redis.ConnectTimeout = timeout
	}
	if v, ok := lookup("UPSTREAM_URL"); ok && v != "" {
		c.Upstream.URL = v
	}
	if v, ok := lookup("LISTEN_ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = logging.LogLevel(v)
	}
	return nil
}

// parseMillis accepts a Go duration ("5s") or a bare number of milliseconds.
func parseMillis(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	for i, e := range c.Entries {
		switch {
		case e.Filter == "" && e.Pattern == "":
			return fmt.Errorf("%w: entries[%d]: filter or pattern is required", ErrInvalidConfig, i)
		case e.Filter != "" && e.Pattern != "":
			return fmt.Errorf("%w: entries[%d]: filter and pattern are exclusive", ErrInvalidConfig, i)
		case e.TTL < 0:
			return fmt.Errorf("%w: entries[%d]: negative ttl %d", ErrInvalidConfig, i, e.TTL)
		}
		if e.Pattern != "" {
			if _, err := regexp.Compile(e.Pattern); err != nil {
				return fmt.Errorf("%w: entries[%d]: pattern: %v", ErrInvalidConfig, i, err)
			}
		}
	}

	if c.TTL < 0 {
		return fmt.Errorf("%w: negative ttl %d", ErrInvalidConfig, c.TTL)
	}

	switch c.Fingerprint {
	case "", "digest", "length":
	default:
		return fmt.Errorf("%w: fingerprint must be digest or length (got %q)", ErrInvalidConfig, c.Fingerprint)
	}

	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("%w: redis port %d out of range", ErrInvalidConfig, c.Redis.Port)
	}

	if c.Upstream.URL == "" {
		return fmt.Errorf("%w: upstream url is required", ErrInvalidConfig)
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative server writeTimeout", ErrInvalidConfig)
	}

	if c.Poll.Interval <= 0 || c.Poll.Timeout <= 0 || c.Poll.LoadingTTL <= 0 {
		return fmt.Errorf("%w: poll interval, timeout and loadingTTL must be positive", ErrInvalidConfig)
	}

	return nil
}

// WriteTimeout returns the server write timeout. When none is configured it
// is derived from the longest request path: a full poll wait followed by an
// upstream computation that exhausts its retries.
func (c Config) WriteTimeout() time.Duration {
	if c.Server.WriteTimeout > 0 {
		return c.Server.WriteTimeout
	}
	return c.RequestBudget()
}

// RequestBudget is the worst-case time one cacheable request can take.
func (c Config) RequestBudget() time.Duration {
	cc := c.Client()
	return c.Poll.Timeout + client.MaxRetryDuration(cc.Retry, cc.Timeout) + writeTimeoutSlack
}

// Rules converts the entries into eligibility rules, preserving order.
func (c Config) Rules() []eligibility.Rule {
	rules := make([]eligibility.Rule, 0, len(c.Entries))
	for _, e := range c.Entries {
		ttl := time.Duration(e.TTL) * time.Second
		if e.Pattern != "" {
			rules = append(rules, eligibility.MustPattern(e.Pattern, ttl))
			continue
		}
		rules = append(rules, eligibility.Exact(e.Filter, ttl))
	}
	return rules
}

// Filter builds the eligibility filter.
func (c Config) Filter() *eligibility.Filter {
	return &eligibility.Filter{
		Rules:        c.Rules(),
		EnableHeader: c.EnableHeader,
		EnableQuery:  c.EnableQuery,
	}
}

// Coordinator builds the coordinator configuration.
func (c Config) Coordinator() cache.Config {
	filter := c.Filter()
	cfg := cache.DefaultConfig(filter)
	cfg.Policy = cache.TTLPolicy{
		Rules:   filter.Rules,
		Default: time.Duration(c.TTL) * time.Second,
	}
	if c.Fingerprint == "length" {
		cfg.Fingerprint = cache.FingerprintLength
	}
	cfg.PollInterval = c.Poll.Interval
	cfg.PollTimeout = c.Poll.Timeout
	cfg.LoadingTTL = c.Poll.LoadingTTL
	return cfg
}

// Client builds the upstream client configuration.
func (c Config) Client() client.Config {
	cfg := client.DefaultConfig(c.Upstream.URL)
	cfg.UserAgent = c.Upstream.UserAgent
	if c.Upstream.Timeout > 0 {
		cfg.Timeout = c.Upstream.Timeout
	}
	return cfg
}

// RedisOptions builds the go-redis client options.
func (c Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:        net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port)),
		Username:    c.Redis.Username,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		DialTimeout: c.Redis.ConnectTimeout,
	}
}
