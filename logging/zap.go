package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// appenderCore lets zap loggers derived from a Logger write through that logger's appenders.
// It reads the logger's level on every check so pattern updates reach zap loggers handed out
// earlier.
type appenderCore struct {
	imp    *impl
	fields []zapcore.Field
}

func (c *appenderCore) Enabled(level zapcore.Level) bool {
	return level >= c.imp.Level()
}

func (c *appenderCore) With(fields []zapcore.Field) zapcore.Core {
	return &appenderCore{imp: c.imp, fields: append(c.fields[:len(c.fields):len(c.fields)], fields...)}
}

func (c *appenderCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *appenderCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if len(c.fields) > 0 {
		fields = append(c.fields[:len(c.fields):len(c.fields)], fields...)
	}
	c.imp.write(entry, fields)
	return nil
}

func (c *appenderCore) Sync() error {
	return c.imp.Sync()
}

// sugared returns a zap logger named after imp that shares its appenders and level.
func (imp *impl) sugared() *zap.SugaredLogger {
	logger := zap.New(&appenderCore{imp: imp}, zap.AddCaller())
	if imp.name != "" {
		logger = logger.Named(imp.name)
	}
	return logger.Sugar()
}

func (imp *impl) Desugar() *zap.Logger {
	return imp.sugared().Desugar()
}

func (imp *impl) Named(name string) *zap.SugaredLogger {
	return imp.sugared().Named(name)
}

func (imp *impl) With(args ...interface{}) *zap.SugaredLogger {
	return imp.sugared().With(args...)
}

func (imp *impl) WithOptions(opts ...zap.Option) *zap.SugaredLogger {
	return imp.sugared().WithOptions(opts...)
}
