package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const FileName = "sertus.log"

type Options struct {
	Dir     string
	Level   string // debug|info|warn|error
	Console bool   // also write human-readable lines to stderr
}

// NewLogger writes JSON lines to a rotated file in Options.Dir and, when
// Console is set, mirrors them to stderr.
func NewLogger(opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zapcore.InfoLevel
	}

	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, FileName),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cores := []zapcore.Core{zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, level)}

	if opts.Console {
		ccfg := zap.NewDevelopmentEncoderConfig()
		ccfg.EncodeTime = zapcore.RFC3339TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(ccfg), zapcore.Lock(os.Stderr), level))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}
