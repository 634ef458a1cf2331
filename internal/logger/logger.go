package logger

import (
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	simpleTimeFormat = "02-01-2006 15:04:05"
	// jsonTimeFormat is RFC3339 with milliseconds.
	jsonTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// New constructs a zerolog logger according to the runtime environment.
// Development environments receive human readable console logs while other
// environments emit JSON for easy ingestion.
func New(env, level string, writers ...io.Writer) (*zerolog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = jsonTimeFormat
	zerolog.DurationFieldUnit = time.Millisecond

	var output io.Writer
	if len(writers) > 0 {
		output = io.MultiWriter(writers...)
	} else if isDevelopment(env) {
		zerolog.TimeFieldFormat = simpleTimeFormat
		cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: simpleTimeFormat}
		cw.FieldsExclude = []string{zerolog.TimestampFieldName}
		output = cw
	} else {
		output = os.Stdout
	}

	logger := zerolog.New(output).With().Timestamp().Logger().Level(lvl)
	return &logger, nil
}

// Component derives a child logger tagged with the component name. A zero
// value parent yields a no-op logger so collaborators can be constructed
// without wiring logging in tests.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	if reflect.ValueOf(parent).IsZero() {
		return zerolog.Nop()
	}
	return parent.With().Str("component", name).Logger()
}

// Service tags every entry of parent with the service name and version.
func Service(parent zerolog.Logger, name, version string) zerolog.Logger {
	ctx := parent.With().Str("service", name)
	if version != "" {
		ctx = ctx.Str("version", version)
	}
	return ctx.Logger()
}

// OrNop returns the supplied logger or a no-op logger when it is the zero value.
func OrNop(l zerolog.Logger) zerolog.Logger {
	if reflect.ValueOf(l).IsZero() {
		return zerolog.Nop()
	}
	return l
}

func isDevelopment(env string) bool {
	return strings.EqualFold(env, "development") || strings.EqualFold(env, "dev")
}

func parseLevel(level string) (zerolog.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		level = zerolog.InfoLevel.String()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, err
	}
	return lvl, nil
}
