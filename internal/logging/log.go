// SPDX-License-Identifier: Apache-2.0

// Package logging provides the severity-levelled, structured logger used
// throughout linkmgrd. It wraps logrus the way the rest of the per-port
// event code expects: a small set of named-severity methods plus a
// WithPort helper that tags every line with the owning port, so a grep for
// one port's lifetime pulls every sub-FSM transition and DB round-trip
// together.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the handle every component holds. It is cheap to copy: With*
// methods return a new Logger sharing the underlying logrus.Logger.
type Logger struct {
	entry *logrus.Entry
}

// New creates a Logger writing to stderr at the given severity.
func New(level logrus.Level) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return &Logger{entry: logrus.NewEntry(l)}
}

// ParseLevel maps the CLI -v argument onto a logrus.Level.
func ParseLevel(s string) (logrus.Level, error) {
	switch s {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warning", "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "fatal":
		return logrus.FatalLevel, nil
	default:
		return logrus.InfoLevel, errUnknownLevel{s}
	}
}

type errUnknownLevel struct{ s string }

func (e errUnknownLevel) Error() string { return "unknown log level: " + e.s }

// WithPort tags subsequent log lines with the owning port name.
func (l *Logger) WithPort(port string) *Logger {
	return &Logger{entry: l.entry.WithField("port", port)}
}

// WithField tags a single arbitrary key/value pair.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Tracef(format string, args ...interface{})   { l.entry.Tracef(format, args...) }
func (l *Logger) Debugf(format string, args ...interface{})   { l.entry.Debugf(format, args...) }
func (l *Logger) Functionf(format string, args ...interface{}) {
	// Functionf is the teacher's name for fine-grained, per-call tracing
	// below Debug; logrus has no dedicated level for it, so it maps to Debug.
	l.entry.Debugf(format, args...)
}
func (l *Logger) Noticef(format string, args ...interface{}) { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})   { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{})  { l.entry.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...interface{})  { l.entry.Fatalf(format, args...) }
func (l *Logger) Fatal(args ...interface{})                  { l.entry.Fatal(args...) }
