// Package logging provides the structured logger shared by every package
// in the server.
package logging

import (
	"os"
	"regexp"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	logger   zerolog.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	logLevel LogLevel       = INFO
	mu       sync.RWMutex
)

// sensitiveKey matches argument keys that must be redacted before logging.
var sensitiveKey = regexp.MustCompile(`(?i)password|token|key|secret`)

func SetLogLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	logLevel = level
	zerolog.SetGlobalLevel(mapLogLevel(level))
}

func GetLogLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel
}

func GetLogger() *zerolog.Logger {
	return &logger
}

// Configure switches between a human-readable console writer (development)
// and plain JSON lines (production), then applies level.
func Configure(level LogLevel, production bool) {
	mu.Lock()
	if production {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	mu.Unlock()
	SetLogLevel(level)
}

// Redact masks any argument value whose key looks like a credential before
// it is attached to a log event.
func Redact(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if sensitiveKey.MatchString(k) {
			out[k] = "***redacted***"
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// ParseLevel maps the LOG_LEVEL environment value to a LogLevel, defaulting
// to INFO for unrecognized values.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func mapLogLevel(level LogLevel) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
