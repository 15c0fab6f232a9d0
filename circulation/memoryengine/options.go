package memoryengine

import (
	"github.com/openshelf/circulation-go/circulation"
)

// Option defines a functional option for configuring a CirculationStore.
type Option func(*CirculationStore) error

// WithPolicy sets the lending policy the store applies to loans.
// Without this option the store uses circulation.DefaultPolicy.
func WithPolicy(policy circulation.Policy) Option {
	return func(ms *CirculationStore) error {
		if err := policy.Validate(); err != nil {
			return err
		}

		ms.policy = policy

		return nil
	}
}
