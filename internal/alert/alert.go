// Package alert is the observability channel for delivery-side failures.
// None of these failures surface synchronously to an end user; the pipeline
// raises alerts and keeps going.
package alert

import (
	"context"
	"log/slog"
)

// Severity labels for out-of-band alert routing.
const (
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Alerter receives delivery-side failure reports. Implementations must be
// safe for concurrent use.
type Alerter interface {
	// Error reports an isolated runtime failure (a consumer handler blew
	// up, a publish failed). args are slog-style key/value pairs.
	Error(ctx context.Context, msg string, err error, args ...any)

	// Critical reports a safety-policy trip, e.g. a cascade exceeding the
	// generation ceiling.
	Critical(ctx context.Context, msg string, args ...any)
}

// LogAlerter writes alerts to a slog logger.
type LogAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Error(ctx context.Context, msg string, err error, args ...any) {
	a.logger.ErrorContext(ctx, msg, append(args, "err", err)...)
}

func (a *LogAlerter) Critical(ctx context.Context, msg string, args ...any) {
	a.logger.ErrorContext(ctx, msg, append(args, "severity", SeverityCritical)...)
}

// Func adapts a function to the Alerter interface. The composition root uses
// it to forward alerts to the bus as system events alongside logging.
type Func func(ctx context.Context, severity, msg string, err error, args ...any)

func (f Func) Error(ctx context.Context, msg string, err error, args ...any) {
	f(ctx, SeverityError, msg, err, args...)
}

func (f Func) Critical(ctx context.Context, msg string, args ...any) {
	f(ctx, SeverityCritical, msg, nil, args...)
}

// Multi fans an alert out to several alerters.
type Multi []Alerter

func (m Multi) Error(ctx context.Context, msg string, err error, args ...any) {
	for _, a := range m {
		a.Error(ctx, msg, err, args...)
	}
}

func (m Multi) Critical(ctx context.Context, msg string, args ...any) {
	for _, a := range m {
		a.Critical(ctx, msg, args...)
	}
}
