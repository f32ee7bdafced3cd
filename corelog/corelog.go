// Package corelog provides the core's structured logging surface: a thin,
// concretely-typed facade over logiface/stumpy so that the rest of the
// module logs through one narrow interface instead of depending on the
// generic logiface.Logger[E] directly everywhere.
package corelog

import (
	"io"
	"os"
	"time"

	"github.com/joeycumines/go-utilpkg/logiface"
	"github.com/joeycumines/go-utilpkg/logiface/stumpy"
)

// Logger is the core's logging handle. It wraps a concrete
// logiface.Logger[*stumpy.Event], writing newline-delimited JSON.
type Logger struct {
	base *logiface.Logger[*stumpy.Event]
}

// New builds a Logger writing level-and-above JSON lines to w.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		base: stumpy.L.New(
			stumpy.L.WithStumpy(stumpy.WithWriter(w)),
			stumpy.L.WithLevel(level),
		),
	}
}

// ParseLevel maps the boot-time config strings coreconfig.WithLogLevel
// accepts onto logiface.Level, defaulting to LevelInformational for an
// unrecognized value rather than failing boot over a typo'd flag.
func ParseLevel(s string) logiface.Level {
	switch s {
	case "trace":
		return logiface.LevelTrace
	case "debug":
		return logiface.LevelDebug
	case "info", "":
		return logiface.LevelInformational
	case "notice":
		return logiface.LevelNotice
	case "warning", "warn":
		return logiface.LevelWarning
	case "error", "err":
		return logiface.LevelError
	case "critical", "crit":
		return logiface.LevelCritical
	case "disabled", "off":
		return logiface.LevelDisabled
	default:
		return logiface.LevelInformational
	}
}

// Discard returns a Logger that drops everything; used by components
// that accept an optional *Logger and treat nil as "no logging" is not
// desired, since every call site here is guarded with a nil check
// instead — see With.
func Discard() *Logger {
	return New(io.Discard, logiface.LevelDisabled)
}

// With returns l, or a discarding Logger if l is nil, so callers can
// always log unconditionally: corelog.With(l).Info()...
func With(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// Named returns a child logger with component=name attached to every
// event, the way a kernel subsystem tags its diagnostic output.
func (l *Logger) Named(name string) *Logger {
	child := l.base.Clone().Str("component", name).Logger()
	return &Logger{base: child}
}

func (l *Logger) Trace() *Event   { return wrap(l.base.Trace()) }
func (l *Logger) Debug() *Event   { return wrap(l.base.Debug()) }
func (l *Logger) Info() *Event    { return wrap(l.base.Info()) }
func (l *Logger) Notice() *Event  { return wrap(l.base.Notice()) }
func (l *Logger) Warning() *Event { return wrap(l.base.Warning()) }
func (l *Logger) Err() *Event     { return wrap(l.base.Err()) }
func (l *Logger) Crit() *Event    { return wrap(l.base.Crit()) }

// Event is a single in-flight log event, mirroring logiface.Builder's
// fluent API for the field types the core actually emits.
type Event struct {
	b *logiface.Builder[*stumpy.Event]
}

func wrap(b *logiface.Builder[*stumpy.Event]) *Event { return &Event{b: b} }

func (e *Event) Str(key, val string) *Event {
	e.b = e.b.Str(key, val)
	return e
}

func (e *Event) Int(key string, val int) *Event {
	e.b = e.b.Int(key, val)
	return e
}

func (e *Event) Uint64(key string, val uint64) *Event {
	e.b = e.b.Uint64(key, val)
	return e
}

func (e *Event) Dur(key string, val time.Duration) *Event {
	e.b = e.b.Dur(key, val)
	return e
}

func (e *Event) Err(err error) *Event {
	e.b = e.b.Err(err)
	return e
}

func (e *Event) Bool(key string, val bool) *Event {
	e.b = e.b.Bool(key, val)
	return e
}

// Msg finalizes and writes the event with the given message.
func (e *Event) Msg(msg string) {
	_ = e.b.Log(msg)
}
