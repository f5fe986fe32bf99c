// Package logger provides structured logging functionality for the application.
//
// It uses the standard library log/slog package to emit JSON records with a
// configurable level, and carries request-scoped loggers through
// context.Context so that lower layers log with the caller's attributes.
package logger
