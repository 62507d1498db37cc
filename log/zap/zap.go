// Package zap adapts a *zap.Logger to cachehouse.Logger.
package zap

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/cachehouse"
)

// Logger forwards cache events to zap. Hit and miss events are logged at
// debug on every call, so fields are only built when the level is enabled.
type Logger struct{ L *zap.Logger }

var _ cachehouse.Logger = Logger{}

// New names the logger "cachehouse" and skips the adapter frames in caller
// annotations.
func New(l *zap.Logger) Logger {
	return Logger{L: l.Named("cachehouse").WithOptions(zap.AddCallerSkip(2))}
}

func (z Logger) Debug(msg string, f cachehouse.Fields) { z.log(zapcore.DebugLevel, msg, f) }
func (z Logger) Info(msg string, f cachehouse.Fields)  { z.log(zapcore.InfoLevel, msg, f) }
func (z Logger) Warn(msg string, f cachehouse.Fields)  { z.log(zapcore.WarnLevel, msg, f) }
func (z Logger) Error(msg string, f cachehouse.Fields) { z.log(zapcore.ErrorLevel, msg, f) }

func (z Logger) log(lvl zapcore.Level, msg string, f cachehouse.Fields) {
	if z.L == nil || !z.L.Core().Enabled(lvl) {
		return
	}
	z.L.Log(lvl, msg, fields(f)...)
}

func fields(f cachehouse.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
