// Package logging is the pluggable event sink spec.md §9 calls for in place
// of the original's global mutable logger: every Manager, Client, Worker,
// and Admin takes a Sink at construction instead of reading package-level
// state.
package logging

import "github.com/sirupsen/logrus"

// Sink is the leveled, fields-carrying logging facade this library writes
// to. Grounded on nabbar/golib/logger's Logger interface shape, trimmed to
// the methods this module actually calls.
type Sink interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
	Errorf(format string, args ...any)

	// WithFields returns a Sink that tags every subsequent message with the
	// given fields (remote address, task name, job handle, ...).
	WithFields(fields map[string]any) Sink
}

type logrusSink struct {
	entry *logrus.Entry
}

// NewLogrus wraps an existing *logrus.Logger. A nil logger gets a
// logrus.New() default.
func NewLogrus(l *logrus.Logger) Sink {
	if l == nil {
		l = logrus.New()
	}
	return &logrusSink{entry: logrus.NewEntry(l)}
}

func (s *logrusSink) Debugf(format string, args ...any)   { s.entry.Debugf(format, args...) }
func (s *logrusSink) Infof(format string, args ...any)    { s.entry.Infof(format, args...) }
func (s *logrusSink) Warningf(format string, args ...any) { s.entry.Warningf(format, args...) }
func (s *logrusSink) Errorf(format string, args ...any)   { s.entry.Errorf(format, args...) }

func (s *logrusSink) WithFields(fields map[string]any) Sink {
	return &logrusSink{entry: s.entry.WithFields(logrus.Fields(fields))}
}

type noopSink struct{}

// NewNoop returns a Sink that discards everything. It is the zero-value
// default on every façade, so logging is strictly opt-in.
func NewNoop() Sink { return noopSink{} }

func (noopSink) Debugf(string, ...any)          {}
func (noopSink) Infof(string, ...any)           {}
func (noopSink) Warningf(string, ...any)        {}
func (noopSink) Errorf(string, ...any)          {}
func (noopSink) WithFields(map[string]any) Sink { return noopSink{} }
