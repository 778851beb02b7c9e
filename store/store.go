package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mostlygeek/statebus/event"
)

// Reserved event names. Consumer modules must not repurpose these.
const (
	EventInit     = "@init"     // dispatched once by New, after all modules registered
	EventDispatch = "@dispatch" // precedes the handlers of every other dispatch
	EventChanged  = "@changed"  // follows a cycle that produced at least one delta
)

// State is a snapshot of the store's key/value mapping. Snapshots returned by
// Get are copies; the live mapping is only ever written by Dispatch.
type State map[string]any

// Delta is a partial mapping of changed keys returned by a handler. A delta
// only adds or overwrites keys, it never deletes them.
type Delta map[string]any

// Handler computes a delta from the current state and a payload. Returning an
// error aborts the remaining handlers of the cycle and propagates to the
// Dispatch caller; deltas already merged earlier in the cycle stay applied.
//
// Handlers run inside the dispatch cycle. They must not call Dispatch or Get
// on the store they are registered with; asynchronous work returns Pending()
// and dispatches again from its own goroutine once it settles.
type Handler func(state State, payload any, s *Store) (Result, error)

// Module registers handlers on a store at construction time.
type Module func(s *Store) error

// Dispatched is the payload carried by the EventDispatch meta-event.
type Dispatched struct {
	Event    string // the event about to run
	Payload  any
	Handlers int // handlers registered for Event when the cycle started
}

// Changed is the payload carried by the EventChanged meta-event.
type Changed struct {
	State   State // snapshot after the cycle's merges
	Changes Delta // union of all settled deltas in the cycle
}

type registration struct {
	handler Handler
}

// Store centralizes state transitions behind named events and notifies
// observers of the keys that changed. The dispatch mutex is the serialization
// point: one dispatch cycle completes before the next begins, even with
// multiple dispatching goroutines.
type Store struct {
	mu    sync.Mutex // serializes dispatch cycles and guards state
	state State

	regMu    sync.RWMutex
	handlers map[string][]*registration

	journal *Journal

	busMu  sync.Mutex
	bus    *event.Bus[Changed]
	busMax int
}

// New constructs a store, runs each module in order so it can register its
// handlers, then synchronously dispatches EventInit. A module error aborts
// construction.
func New(modules ...Module) (*Store, error) {
	return NewWithConfig(Config{}, modules...)
}

// NewWithConfig is New with config-driven seed state, journal and async
// notification settings. The zero Config behaves like New.
func NewWithConfig(cfg Config, modules ...Module) (*Store, error) {
	s := &Store{
		state:    State{},
		handlers: make(map[string][]*registration),
		busMax:   cfg.MaxQueue,
	}
	if s.busMax < 1 {
		s.busMax = DefaultMaxQueue
	}

	if cfg.JournalSize > 0 {
		s.journal = NewJournal(cfg.JournalSize)
		modules = append([]Module{Observe(s.journal)}, modules...)
	}
	if len(cfg.Seed) > 0 {
		modules = append([]Module{seed(cfg.Seed)}, modules...)
	}

	for i, m := range modules {
		if err := m(s); err != nil {
			return nil, fmt.Errorf("store: module %d: %w", i, err)
		}
	}

	if err := s.Dispatch(EventInit, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// seed applies config-provided initial state as an EventInit delta. It is
// registered before any user module, so module EventInit handlers observe
// (and may overwrite) the seeded keys.
func seed(initial map[string]any) Module {
	return func(s *Store) error {
		s.On(EventInit, func(State, any, *Store) (Result, error) {
			return Settled(Delta(initial)), nil
		})
		return nil
	}
}

// On registers handler for eventName, appended in registration order. The
// returned func removes exactly this registration; calling it again is a
// no-op. Registrations made during a dispatch cycle take effect on the next
// cycle for that event (the cycle iterates a snapshot of the list).
func (s *Store) On(eventName string, handler Handler) func() {
	reg := &registration{handler: handler}

	s.regMu.Lock()
	s.handlers[eventName] = append(s.handlers[eventName], reg)
	s.regMu.Unlock()

	return func() {
		s.regMu.Lock()
		defer s.regMu.Unlock()

		list := s.handlers[eventName]
		for i, r := range list {
			if r == reg {
				// Rebuild rather than splice in place, an in-flight cycle
				// may still be iterating the old backing array.
				next := make([]*registration, 0, len(list)-1)
				next = append(next, list[:i]...)
				next = append(next, list[i+1:]...)
				s.handlers[eventName] = next
				return
			}
		}
	}
}

// Dispatch runs all handlers registered for eventName in registration order,
// shallow-merging every settled delta into state so later handlers in the
// same cycle observe it. EventDispatch precedes the handlers; EventChanged
// follows them, at most once per call, when the cycle's delta union is
// non-empty. A handler error aborts the cycle with no rollback.
func (s *Store) Dispatch(eventName string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := Delta{}
	if eventName != EventDispatch {
		meta := Dispatched{
			Event:    eventName,
			Payload:  payload,
			Handlers: len(s.handlersFor(eventName)),
		}
		if err := s.run(EventDispatch, meta, changes); err != nil {
			return err
		}
	}

	if err := s.run(eventName, payload, changes); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	changed := Changed{State: s.snapshotLocked(), Changes: changes}
	if err := s.run(EventChanged, changed, Delta{}); err != nil {
		return err
	}
	s.publish(changed)
	return nil
}

// run invokes one event's handlers against the live state, accumulating
// settled deltas into changes.
func (s *Store) run(eventName string, payload any, changes Delta) error {
	for _, reg := range s.handlersFor(eventName) {
		res, err := reg.handler(s.state, payload, s)
		if err != nil {
			return fmt.Errorf("store: %q handler: %w", eventName, err)
		}

		delta, ok := res.Delta()
		if !ok {
			continue
		}
		for k, v := range delta {
			s.state[k] = v
			changes[k] = v
		}
	}
	return nil
}

// Get returns a copy of the current state snapshot. It must not be called
// from inside a handler; handlers already receive the live state.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	out := make(State, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// handlersFor returns a snapshot of the registration list for eventName.
func (s *Store) handlersFor(eventName string) []*registration {
	s.regMu.RLock()
	defer s.regMu.RUnlock()

	list := s.handlers[eventName]
	if len(list) == 0 {
		return nil
	}
	out := make([]*registration, len(list))
	copy(out, list)
	return out
}

// Journal returns the dispatch journal, or nil when the store was built
// without one (Config.JournalSize == 0).
func (s *Store) Journal() *Journal {
	return s.journal
}

// Events returns the store's asynchronous notification bus, creating it on
// first use. Topics are state keys: after a cycle changes keys k1..kn, the
// cycle's Changed payload is published once per key, so
// Events().Subscribe("count", fn) reacts only to dispatches touching "count".
// Delivery happens off the dispatching goroutine, in dispatch order per
// subscriber.
func (s *Store) Events() *event.Bus[Changed] {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	if s.bus == nil {
		s.bus = event.NewBusConfig[Changed](s.busMax)
	}
	return s.bus
}

func (s *Store) publish(c Changed) {
	s.busMu.Lock()
	bus := s.bus
	s.busMu.Unlock()
	if bus == nil {
		return
	}
	for _, k := range sortedKeys(c.Changes) {
		bus.Publish(k, c)
	}
}

// Close releases the async notification bus, stopping its consumer
// goroutines. Handler registrations need no teardown beyond their
// unsubscribe funcs.
func (s *Store) Close() error {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

func sortedKeys(d Delta) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
