package ownership

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// FinalizeHook lets the owning component take part in a successful claim.
// It runs inside the claim's transaction after the new owner was written;
// returning an error rolls the whole claim back.
type FinalizeHook func(ctx context.Context, resourceID string, previous, newOwner Identity) error

// options configures the Manager behavior (internal only).
type options struct {
	logger       *slog.Logger
	clock        Clock
	validator    Validator
	finalizeHook FinalizeHook
	metrics      *Metrics
	tracer       trace.Tracer
}

// defaultOptions returns sensible defaults.
func defaultOptions() options {
	return options{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:     SystemClock{},
		validator: LowercaseValidator{},
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
	}
}

// Option is a functional option for configuring a Manager.
type Option func(*options)

// WithLogger sets the logger for the manager.
// If the logger is nil, the manager will use a no-op logger.
// DEFAULT: A no-op logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		o.logger = logger
	}
}

// WithClock sets the time source used for proposal deadlines.
// DEFAULT: SystemClock
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithValidator sets the validator for owner and candidate identities.
// DEFAULT: LowercaseValidator
func WithValidator(validator Validator) Option {
	return func(o *options) {
		if validator != nil {
			o.validator = validator
		}
	}
}

// WithFinalizeHook registers a hook that runs when a claim succeeds.
func WithFinalizeHook(hook FinalizeHook) Option {
	return func(o *options) {
		o.finalizeHook = hook
	}
}

// WithMetrics records request counters and durations into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracerProvider sets the provider spans are created from.
// DEFAULT: the global otel provider
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.tracer = provider.Tracer(tracerName)
		}
	}
}
