package transport

import (
	"os"

	"github.com/inconshreveable/log15"
)

// Logger is the structured logging seam every Transport is built against.
// The default wraps log15 the way ngrok's own client stack does; callers
// that already run log15 elsewhere can pass their own root logger in via
// WithLogger and get its handlers/context for free.
type Logger interface {
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
}

type log15Logger struct {
	l log15.Logger
}

func newLogger() Logger {
	l := log15.New()
	l.SetHandler(log15.LvlFilterHandler(log15.LvlInfo, log15.StreamHandler(os.Stderr, log15.LogfmtFormat())))
	return &log15Logger{l: l}
}

func (w *log15Logger) Debug(msg string, ctx ...interface{}) { w.l.Debug(msg, ctx...) }
func (w *log15Logger) Info(msg string, ctx ...interface{})  { w.l.Info(msg, ctx...) }
func (w *log15Logger) Warn(msg string, ctx ...interface{})  { w.l.Warn(msg, ctx...) }
func (w *log15Logger) Error(msg string, ctx ...interface{}) { w.l.Error(msg, ctx...) }
