// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates the standard agent logger: a JSON handler writing
// to stderr at Info level. It also becomes the slog default so library
// code that falls back to slog.Default() logs the same way.
func NewLogger() *slog.Logger {
	return newJSONLogger(os.Stderr)
}

// LogFile configures a rotating log file for long-running services.
type LogFile struct {
	Path string

	// MaxSizeMB is the size at which the file is rotated.
	// Default: 100
	MaxSizeMB int

	// MaxBackups is how many rotated files are kept.
	// Default: 5
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// NewFileLogger is NewLogger writing to a rotating file instead of
// stderr. Close the returned closer on shutdown.
func NewFileLogger(file LogFile) (*slog.Logger, io.Closer) {
	if file.MaxSizeMB <= 0 {
		file.MaxSizeMB = 100
	}
	if file.MaxBackups <= 0 {
		file.MaxBackups = 5
	}
	writer := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		Compress:   file.Compress,
	}
	return newJSONLogger(writer), writer
}

func newJSONLogger(writer io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}
