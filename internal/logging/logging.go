// Package logging wraps zap behind a narrow interface so components depend
// on a contract, not a concrete logging library.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the contract every component is constructed with. No component
// reaches for a global logger.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	With(keyValues ...any) Logger
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger. When dev is true, output is human-readable console
// logging; otherwise structured JSON suitable for aggregation.
func New(dev bool) (Logger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: z.Sugar()}, nil
}

// NewNop returns a Logger that discards everything; useful in tests.
func NewNop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

func (l *zapLogger) With(keyValues ...any) Logger {
	return &zapLogger{sugar: l.sugar.With(keyValues...)}
}
