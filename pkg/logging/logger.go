// Package logging configures structured zerolog output for the cache proxy.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `yaml:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `yaml:"pretty"`

	// Service is attached to every line as "service" when set.
	Service string `yaml:"service"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Service: "gql-cache-proxy",
		Output:  os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to zerolog.Level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a logger for a component, derived from the global logger.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: slot internals
//   - Intercept state per key (absent/loading/ready)
//   - Write-back skipped because a ready value exists
//   - Loading marker released
//   - Upstream retry scheduling
//
// Info: protocol events
//   - Cache hit, cache miss (this request computes)
//   - Entering poll wait, poll success
//   - Response cached (with ttl)
//   - Server startup/shutdown
//
// Warn: degraded but serving
//   - Poll timeout (falls back to computation)
//   - Upstream retry attempts exhausted for a single try
//
// Error: request fails
//   - Store unavailable
//   - Corrupt cache entry
//   - Upstream unreachable after retries
//
// Context Fields:
//   - component: cache, middleware, upstream, proxy
//   - key: cache key
//   - operation: GraphQL operation name
//   - outcome: interception outcome
//   - ttl: write-back TTL
//   - waited: time spent polling
//   - error_class: upstream error class (client, server, network)
