package postgresengine

import (
	"github.com/openshelf/circulation-go/circulation"
)

// Option defines a functional option for configuring a CirculationStore.
type Option func(*CirculationStore) error

// WithTablePrefix sets a prefix for all tables the store uses,
// so multiple stores can share one database schema.
func WithTablePrefix(prefix string) Option {
	return func(cs *CirculationStore) error {
		if prefix == "" {
			return circulation.ErrEmptyTablePrefix
		}

		cs.tablePrefix = prefix

		return nil
	}
}

// WithPolicy sets the lending policy the store applies to loans.
// Without this option the store uses circulation.DefaultPolicy.
func WithPolicy(policy circulation.Policy) Option {
	return func(cs *CirculationStore) error {
		if err := policy.Validate(); err != nil {
			return err
		}

		cs.policy = policy

		return nil
	}
}

// WithLogger sets a logger for the CirculationStore.
func WithLogger(logger circulation.Logger) Option {
	return func(cs *CirculationStore) error {
		cs.logger = logger

		return nil
	}
}

// WithContextualLogger sets a contextual logger for the CirculationStore.
// When both loggers are configured, the contextual one is preferred.
func WithContextualLogger(logger circulation.ContextualLogger) Option {
	return func(cs *CirculationStore) error {
		cs.contextualLogger = logger

		return nil
	}
}

// WithMetrics sets a metrics collector for the CirculationStore.
func WithMetrics(collector circulation.MetricsCollector) Option {
	return func(cs *CirculationStore) error {
		cs.metricsCollector = collector

		return nil
	}
}

// WithTracing sets a tracing collector for the CirculationStore.
func WithTracing(collector circulation.TracingCollector) Option {
	return func(cs *CirculationStore) error {
		cs.tracingCollector = collector

		return nil
	}
}
