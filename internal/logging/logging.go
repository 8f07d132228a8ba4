// Package logging builds the process-wide zerolog logger. Each binary calls
// New once in main and injects the returned logger into its components.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradepost/moderation/internal/config"
)

// New creates a logger tagged with the service name. LOG_LEVEL selects the
// level (trace, debug, info, warn, error; default info) and LOG_FORMAT
// selects console or json output (default console).
func New(service string) zerolog.Logger {
	cfg := config.NewLoader("LOG")

	level, err := zerolog.ParseLevel(cfg.String("LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if cfg.String("FORMAT", "console") == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Str("service", service).Logger()
}
