// Package logger builds the process-wide zap.Logger, rotating logs to disk
// through lumberjack and, when Options.Tee is set, also writing
// human-readable output to stdout.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New. LogDir defaults to "log" and MaxSizeMB to 100
// when zero.
type Options struct {
	LogDir     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Tee        bool
}

// New builds a *zap.Logger writing JSON-encoded entries to a rotated file
// under opts.LogDir, and installs it as the global logger so that
// zap.L()/zap.S() work from packages that have no logger reference of
// their own (internal/config/loader.go relies on this during boot).
func New(opts Options) (*zap.Logger, error) {
	if opts.LogDir == "" {
		opts.LogDir = "log"
	}
	if opts.MaxSizeMB == 0 {
		opts.MaxSizeMB = 100
	}
	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.LogDir + "/dispatcher.log",
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(rotator),
		zap.NewAtomicLevelAt(zapcore.InfoLevel),
	)

	core := fileCore
	if opts.Tee {
		consoleCore := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.AddSync(os.Stdout),
			zap.NewAtomicLevelAt(zapcore.DebugLevel),
		)
		core = zapcore.NewTee(fileCore, consoleCore)
	}

	l := zap.New(core, zap.AddCaller())
	zap.ReplaceGlobals(l)
	l.Info("logger online", zap.Bool("tee", opts.Tee))
	return l, nil
}
