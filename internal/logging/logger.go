package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// TRYON_LOG_LEVEL controls the log level: debug, info, warn, error (default: info).
// TRYON_LOG_FORMAT=json writes raw JSON lines (Lambda); anything else uses the console writer.
func Init() {
	InitWith(EnvOrDefault("TRYON_LOG_LEVEL", "info"), EnvOrDefault("TRYON_LOG_FORMAT", "console"), os.Stderr)
}

// InitWith initializes the global logger with an explicit level, format and output.
func InitWith(level, format string, out io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
}

// ParseLevel maps a level name onto a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
