package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Production output is JSON; elsewhere it is a console writer.
// level is one of debug, info, warn or error and defaults to debug outside production.
func New(env, level string) zerolog.Logger {
	var output io.Writer = os.Stdout
	production := strings.EqualFold(env, "production") || strings.EqualFold(env, "prod")
	if !production {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(output).With().Timestamp().Str("env", env).Logger()
	zerolog.SetGlobalLevel(parseLevel(level, production))
	return logger
}

func parseLevel(level string, production bool) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	if production {
		return zerolog.InfoLevel
	}
	return zerolog.DebugLevel
}
