// Package log provides the leveled logging helper shared by the builder and
// the reader. It mirrors the shape of a kratos-style log.Helper — a small
// interface plus a concrete backend — but is backed directly by zap's
// SugaredLogger, since that is the logging stack already present in this
// codebase's sibling projects.
package log

import (
	"go.uber.org/zap"
)

// Logger is the minimal leveled-logging surface the database core depends
// on. Callers that already have their own structured logger can adapt it to
// this interface instead of pulling in zap.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Helper adds a fixed component name to every line, so a long-lived value
// like a Database or Builder can carry one logger through its whole
// lifetime instead of passing a component string to every call.
type Helper struct {
	component string
	backend   Logger
}

// NewHelper binds a component name to a backend logger.
func NewHelper(component string, backend Logger) *Helper {
	if backend == nil {
		backend = NewNop()
	}
	return &Helper{component: component, backend: backend}
}

func (h *Helper) Debugf(format string, args ...interface{}) {
	h.backend.Debugf("["+h.component+"] "+format, args...)
}

func (h *Helper) Infof(format string, args ...interface{}) {
	h.backend.Infof("["+h.component+"] "+format, args...)
}

func (h *Helper) Warnf(format string, args ...interface{}) {
	h.backend.Warnf("["+h.component+"] "+format, args...)
}

func (h *Helper) Errorf(format string, args ...interface{}) {
	h.backend.Errorf("["+h.component+"] "+format, args...)
}

// zapLogger adapts a *zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger builds a production zap logger writing to stderr at Info
// level and above, suitable as the default backend when the caller supplies
// no logger of its own.
func NewZapLogger() Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op rather than panic from a logging constructor.
		return NewNop()
	}
	return &zapLogger{s: logger.Sugar()}
}

// NewZapLoggerFrom wraps an existing *zap.Logger, for callers that already
// manage zap construction (field options, sampling, sinks) themselves.
func NewZapLoggerFrom(l *zap.Logger) Logger {
	if l == nil {
		return NewNop()
	}
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Debugf(format string, args ...interface{}) { z.s.Debugf(format, args...) }
func (z *zapLogger) Infof(format string, args ...interface{})  { z.s.Infof(format, args...) }
func (z *zapLogger) Warnf(format string, args ...interface{})  { z.s.Warnf(format, args...) }
func (z *zapLogger) Errorf(format string, args ...interface{}) { z.s.Errorf(format, args...) }

// nopLogger discards everything; used as the zero-value default so callers
// who never configure logging still get a working, silent Helper.
type nopLogger struct{}

// NewNop returns a Logger that discards all output.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
