package store

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mostlygeek/statebus/store"

// Trace returns a module that emits a span for every dispatch and annotates
// the keys each cycle changed, built on the EventDispatch and EventChanged
// hooks. Handlers return None(); tracing never mutates state.
func Trace(tp trace.TracerProvider) Module {
	tracer := tp.Tracer(tracerName)

	return func(s *Store) error {
		s.On(EventDispatch, func(_ State, payload any, _ *Store) (Result, error) {
			d, ok := payload.(Dispatched)
			if !ok {
				return None(), nil
			}
			_, span := tracer.Start(context.Background(), "store.dispatch",
				trace.WithAttributes(
					attribute.String("store.event", d.Event),
					attribute.Int("store.handlers", d.Handlers),
					attribute.Bool("store.payload", d.Payload != nil),
				))
			span.End()
			return None(), nil
		})

		s.On(EventChanged, func(_ State, payload any, _ *Store) (Result, error) {
			c, ok := payload.(Changed)
			if !ok {
				return None(), nil
			}
			_, span := tracer.Start(context.Background(), "store.changed",
				trace.WithAttributes(
					attribute.StringSlice("store.keys", sortedKeys(c.Changes)),
				))
			span.End()
			return None(), nil
		})
		return nil
	}
}
