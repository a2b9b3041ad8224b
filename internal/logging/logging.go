// Package logging configures the process-wide zerolog logger: info/debug/warn
// to stdout, error/fatal/panic to stderr, matching the split-writer
// convention used across the rest of the stack.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// SpecificLevelWriter filters Write calls to only the levels it lists,
// delegating everything else to a no-op so zerolog's MultiLevelWriter can
// route each record to exactly the writers willing to take it.
type SpecificLevelWriter struct {
	io.Writer
	Levels []zerolog.Level
}

func (w SpecificLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.Levels {
		if l == level {
			return w.Write(p)
		}
	}
	return len(p), nil
}

var log zerolog.Logger

func init() {
	stdout := SpecificLevelWriter{
		Writer: zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"},
		Levels: []zerolog.Level{zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel},
	}
	stderr := SpecificLevelWriter{
		Writer: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
		Levels: []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
	}
	log = zerolog.New(zerolog.MultiLevelWriter(stdout, stderr)).With().Timestamp().Logger()
}

// SetVerbose raises the global log level to debug, or resets it to info.
func SetVerbose(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Logger returns the shared logger for components that want structured
// field chaining (log.With().Str(...)).
func Logger() *zerolog.Logger {
	return &log
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }

func Debugf(format string, args ...interface{}) { log.Debug().Msgf(format, args...) }
func Infof(format string, args ...interface{})  { log.Info().Msgf(format, args...) }
func Warnf(format string, args ...interface{})  { log.Warn().Msgf(format, args...) }
func Errorf(format string, args ...interface{}) { log.Error().Msgf(format, args...) }
