package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls global log output.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // console or json
	Out    io.Writer
}

// Setup configures the global zerolog logger. Output goes to stderr unless
// Out is set, so stdout stays free for the run result.
func Setup(opts Options) error {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	zerolog.SetGlobalLevel(level)

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(opts.Format) {
	case "", "console":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05.000",
			NoColor:    os.Getenv("NO_COLOR") != "",
		}).With().Timestamp().Logger()
	case "json":
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log format %q (must be console or json)", opts.Format)
	}
	return nil
}

// RunLogger tags every line of a single classify-and-reconcile run with the
// same run id and tracks its elapsed time.
type RunLogger struct {
	zerolog.Logger
	runID     string
	startTime time.Time
}

// NewRun derives a run logger from parent.
func NewRun(parent zerolog.Logger) *RunLogger {
	id := uuid.NewString()
	return &RunLogger{
		Logger:    parent.With().Str("run_id", id).Logger(),
		runID:     id,
		startTime: time.Now(),
	}
}

// RunID returns the id attached to every line of this run.
func (r *RunLogger) RunID() string {
	return r.runID
}

// Stage returns a child logger for one pipeline stage.
func (r *RunLogger) Stage(name string) zerolog.Logger {
	return r.With().Str("stage", name).Logger()
}

// Finish logs the outcome and total duration of the run.
func (r *RunLogger) Finish(err error) {
	elapsed := time.Since(r.startTime).Round(time.Millisecond)
	if err != nil {
		r.Error().Err(err).Dur("elapsed", elapsed).Msg("Run failed")
		return
	}
	r.Info().Dur("elapsed", elapsed).Msg("Run completed")
}
