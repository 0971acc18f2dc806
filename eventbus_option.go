package finhop

import "github.com/quantrel/finhop/internal/eventbus"

// WithEventBus sets the event bus component.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(f *FinHop) {
		f.eventBus = bus
	}
}
