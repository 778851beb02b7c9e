package store

import (
	"sync"
	"time"
)

// Watcher is a selective subscription to a set of state keys. It caches a
// filtered view of the watched keys and invalidates it only when a dispatch
// cycle changes at least one of them.
type Watcher struct {
	s    *Store
	keys map[string]struct{}
	off  func()

	mu     sync.Mutex
	view   State
	dirty  bool
	gen    uint64 // bumped on every relevant change
	notify func(Changed)
	deb    *debouncer
}

// Watch subscribes to changes touching keys. It panics when called on a nil
// store; building consumers before their store exists is a programmer error,
// not a runtime condition.
func (s *Store) Watch(keys ...string) *Watcher {
	if s == nil {
		panic("store: Watch called on a nil store")
	}

	w := &Watcher{
		s:     s,
		keys:  make(map[string]struct{}, len(keys)),
		dirty: true,
	}
	for _, k := range keys {
		w.keys[k] = struct{}{}
	}

	w.off = s.On(EventChanged, func(_ State, payload any, _ *Store) (Result, error) {
		c, ok := payload.(Changed)
		if !ok || !w.relevant(c.Changes) {
			return None(), nil
		}
		w.invalidate(c)
		return None(), nil
	})
	return w
}

func (w *Watcher) relevant(changes Delta) bool {
	for k := range changes {
		if _, ok := w.keys[k]; ok {
			return true
		}
	}
	return false
}

func (w *Watcher) invalidate(c Changed) {
	w.mu.Lock()
	w.dirty = true
	w.gen++
	notify := w.notify
	deb := w.deb
	w.mu.Unlock()

	if deb != nil {
		deb.trigger()
		return
	}
	if notify != nil {
		notify(c)
	}
}

// View returns the current values of the watched keys, recomputing from the
// store only when a relevant change invalidated the cached copy.
func (w *Watcher) View() State {
	w.mu.Lock()
	if !w.dirty {
		cached := w.view
		w.mu.Unlock()
		return cached
	}
	gen := w.gen
	w.mu.Unlock()

	snap := w.s.Get()
	view := make(State, len(w.keys))
	for k := range w.keys {
		if v, ok := snap[k]; ok {
			view[k] = v
		}
	}

	w.mu.Lock()
	// Keep the dirty flag when another relevant change landed between the
	// snapshot and here; the next View call recomputes again.
	if w.gen == gen {
		w.view = view
		w.dirty = false
	}
	w.mu.Unlock()
	return view
}

// Dispatch forwards to the watcher's store, the write half of the exposed
// (view, dispatch) pair.
func (w *Watcher) Dispatch(eventName string, payload any) error {
	return w.s.Dispatch(eventName, payload)
}

// Notify registers fn to run synchronously, inside the dispatch cycle, each
// time a watched key changes. fn receives the cycle's Changed payload and
// must not call back into the store; the payload's snapshot already carries
// the post-cycle state.
func (w *Watcher) Notify(fn func(Changed)) {
	w.mu.Lock()
	w.notify = fn
	w.mu.Unlock()
}

// NotifyDebounced runs fn once d has elapsed with no further relevant
// changes, coalescing a burst of dispatches into a single notification. fn
// runs on a timer goroutine and may read the store, typically via View.
func (w *Watcher) NotifyDebounced(d time.Duration, fn func()) {
	w.mu.Lock()
	w.deb = newDebouncer(d, fn)
	w.mu.Unlock()
}

// Close removes the subscription and stops any pending debounced
// notification. Safe to call more than once.
func (w *Watcher) Close() {
	w.mu.Lock()
	deb := w.deb
	w.deb = nil
	w.mu.Unlock()

	if deb != nil {
		deb.stop()
	}
	w.off()
}
