// Package logger provides structured logging for the encode core.
// All services receive a Logger through their constructor; there is no
// package-level default except the Nop logger used by tests.
package logger

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Logger is the key/value logging interface shared by every service.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Named(name string) Logger
}

type hclogAdapter struct {
	l hclog.Logger
}

// New creates a Logger writing to stderr at the given level.
func New(name, level string) Logger {
	return NewWithOutput(name, level, os.Stderr)
}

// NewWithOutput creates a Logger writing to the given sink.
func NewWithOutput(name, level string, out io.Writer) Logger {
	return &hclogAdapter{l: hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  hclog.LevelFromString(level),
		Output: out,
	})}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &hclogAdapter{l: hclog.NewNullLogger()}
}

func (a *hclogAdapter) Debug(msg string, kv ...interface{}) { a.l.Debug(msg, kv...) }
func (a *hclogAdapter) Info(msg string, kv ...interface{})  { a.l.Info(msg, kv...) }
func (a *hclogAdapter) Warn(msg string, kv ...interface{})  { a.l.Warn(msg, kv...) }
func (a *hclogAdapter) Error(msg string, kv ...interface{}) { a.l.Error(msg, kv...) }

func (a *hclogAdapter) Named(name string) Logger {
	return &hclogAdapter{l: a.l.Named(name)}
}
