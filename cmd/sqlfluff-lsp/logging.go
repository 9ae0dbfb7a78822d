package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger writes to stderr, or appends to path when set. stdout carries
// the protocol and is never logged to.
func newLogger(path string, debug bool) (*zap.Logger, func(), error) {
	level := zapcore.WarnLevel
	if debug {
		level = zapcore.DebugLevel
	}

	sink := zapcore.Lock(os.Stderr)
	closeSink := func() {}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		sink = zapcore.Lock(f)
		closeSink = func() { _ = f.Close() }
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if debug {
		opts = append(opts, zap.AddCaller())
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), sink, level)
	logger := zap.New(core, opts...)
	return logger, func() {
		_ = logger.Sync()
		closeSink()
	}, nil
}
