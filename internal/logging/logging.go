// Package logging wraps zerolog the way the teacher SDK wraps the
// standard log package: a small seam so call sites never import zerolog
// directly.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the minimal leveled surface the client and its policy
// packages depend on. A recording fake can satisfy this in tests without
// pulling in zerolog.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Debugf(format string, args ...any)
}

type zeroLogger struct {
	log zerolog.Logger
}

// New builds a Logger writing to w in the console-friendly format the
// teacher's CLI examples expect. Pass os.Stderr in production.
func New(w io.Writer) Logger {
	return &zeroLogger{log: zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).With().Timestamp().Logger()}
}

// Default returns a Logger writing to stderr at info level.
func Default() Logger {
	return &zeroLogger{log: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).Level(zerolog.InfoLevel).With().Timestamp().Logger()}
}

func (l *zeroLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *zeroLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *zeroLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

// Nop discards all log output. Useful for tests that don't assert on
// log content.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Debugf(string, ...any) {}

// Recorder captures formatted messages by level, for tests that assert on
// the exact log lines the retry/header policies emit.
type Recorder struct {
	Infos  []string
	Warns  []string
	Debugs []string
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Infof(format string, args ...any) {
	r.Infos = append(r.Infos, sprintf(format, args...))
}

func (r *Recorder) Warnf(format string, args ...any) {
	r.Warns = append(r.Warns, sprintf(format, args...))
}

func (r *Recorder) Debugf(format string, args ...any) {
	r.Debugs = append(r.Debugs, sprintf(format, args...))
}

func sprintf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
