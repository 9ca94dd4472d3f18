// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

// Package errutil logs and asserts on oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Attrs returns slog key/value pairs describing err. For oops errors the
// code and context are included alongside the message.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}

	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil && code != "" {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}

// LogError logs err at error level with structured context.
// Extra key/value pairs in attrs are appended after the error attributes.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	log(logger, slog.LevelError, msg, err, attrs)
}

// LogWarn logs err at warn level with structured context.
func LogWarn(logger *slog.Logger, msg string, err error, attrs ...any) {
	log(logger, slog.LevelWarn, msg, err, attrs)
}

func log(logger *slog.Logger, level slog.Level, msg string, err error, attrs []any) {
	if logger == nil {
		logger = slog.Default()
	}
	args := append(Attrs(err), attrs...)
	logger.Log(context.Background(), level, msg, args...)
}
