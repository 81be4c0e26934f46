// Copyright 2026 The riofab Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is the structured logging facade used across riofab. It wraps a
// zap logger behind a small key/value interface:
//
//	log.Info("Device registered", "destid", d.DestID, "hop", d.Hop)
//
// Context values come in key/value pairs; keys must be strings.
package log

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openrio/riofab/pkg/private/serrors"
)

// Level is the log level.
type Level zapcore.Level

// The supported log levels.
const (
	DebugLevel = Level(zapcore.DebugLevel)
	InfoLevel  = Level(zapcore.InfoLevel)
	ErrorLevel = Level(zapcore.ErrorLevel)
)

// Logger describes the logger interface.
type Logger interface {
	New(ctx ...any) Logger
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Enabled(lvl Level) bool
}

var (
	mu       sync.RWMutex
	zapRoot  = zap.NewNop()
	rootOpts options
)

// Setup configures the root logger according to cfg. It may be called more
// than once; the last call wins.
func Setup(cfg Config, opts ...Option) error {
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	o := applyOptions(opts)
	lvl, err := parseLevel(cfg.Console.Level)
	if err != nil {
		return err
	}
	stackLvl, err := parseLevel(cfg.Console.StacktraceLevel)
	if err != nil {
		return err
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch cfg.Console.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.Level(lvl))
	zopts := append([]zap.Option{
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.Level(stackLvl)),
	}, o.zapOptions()...)

	mu.Lock()
	defer mu.Unlock()
	zapRoot = zap.New(core, zopts...)
	rootOpts = o
	return nil
}

// SetRoot installs an already built zap logger as the root logger. It is
// mostly useful in tests.
func SetRoot(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	zapRoot = l.WithOptions(zap.AddCallerSkip(1))
}

func root() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return zapRoot
}

// Root returns the root logger. It's a logger without any context.
func Root() Logger {
	return &logger{logger: root()}
}

// New creates a logger with the given context.
func New(ctx ...any) Logger {
	return &logger{logger: root().With(convertCtx(ctx)...)}
}

// Debug logs at debug level.
func Debug(msg string, ctx ...any) {
	root().Debug(msg, convertCtx(ctx)...)
}

// Info logs at info level.
func Info(msg string, ctx ...any) {
	root().Info(msg, convertCtx(ctx)...)
}

// Error logs at error level.
func Error(msg string, ctx ...any) {
	root().Error(msg, convertCtx(ctx)...)
}

// Flush writes the logs to the underlying buffer.
func Flush() {
	// Sync on a console core returns an error for unsyncable fds; nothing
	// useful can be done about it.
	_ = root().Sync()
}

// HandlePanic catches panics and logs them, then re-panics. It must be
// deferred at the top of every goroutine.
func HandlePanic() {
	if msg := recover(); msg != nil {
		root().Error("Panic", zap.Any("msg", msg), zap.String("stack", string(debug.Stack())))
		Flush()
		panic(msg)
	}
}

type logger struct {
	logger *zap.Logger
}

func (l *logger) New(ctx ...any) Logger {
	return &logger{logger: l.logger.With(convertCtx(ctx)...)}
}

func (l *logger) Debug(msg string, ctx ...any) {
	l.logger.Debug(msg, convertCtx(ctx)...)
}

func (l *logger) Info(msg string, ctx ...any) {
	l.logger.Info(msg, convertCtx(ctx)...)
}

func (l *logger) Error(msg string, ctx ...any) {
	l.logger.Error(msg, convertCtx(ctx)...)
}

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Core().Enabled(zapcore.Level(lvl))
}

// Discard returns a logger that drops every entry.
func Discard() Logger {
	return &logger{logger: zap.NewNop()}
}

func convertCtx(ctx []any) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		key, ok := ctx[i].(string)
		if !ok {
			key = fmt.Sprint(ctx[i])
		}
		fields = append(fields, zap.Any(key, ctx[i+1]))
	}
	return fields
}

func parseLevel(s string) (Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, serrors.Wrap("parsing log level", err, "level", s)
	}
	return Level(l), nil
}
