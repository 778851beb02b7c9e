// Copyright (c) Roman Atachiants and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package event

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// registry holds an immutable sorted array of topic mappings
type registry[T any] struct {
	keys []string    // Topics (sorted)
	grps []*group[T] // Corresponding subscriber groups
}

// ------------------------------------- Bus -------------------------------------

// Bus is an asynchronous fan-out of values keyed by topic. Every subscriber
// drains its own queue on its own goroutine; a publisher only blocks when a
// subscriber queue reaches maxQueue (backpressure).
type Bus[T any] struct {
	subs     atomic.Pointer[registry[T]] // Atomic pointer to immutable array
	done     chan struct{}               // Cancellation
	maxQueue int                         // Maximum queue size per consumer
	mu       sync.Mutex                  // Only for writes (subscribe/unsubscribe)
}

// NewBus creates a new bus with the default queue bound.
func NewBus[T any]() *Bus[T] {
	return NewBusConfig[T](50000)
}

// NewBusConfig creates a new bus with a configurable max queue size.
func NewBusConfig[T any](maxQueue int) *Bus[T] {
	b := &Bus[T]{
		done:     make(chan struct{}),
		maxQueue: maxQueue,
	}

	b.subs.Store(&registry[T]{
		keys: make([]string, 0, 16),
		grps: make([]*group[T], 0, 16),
	})
	return b
}

// Close closes the bus
func (b *Bus[T]) Close() error {
	close(b.done)
	return nil
}

// isClosed returns whether the bus is closed or not
func (b *Bus[T]) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// findGroup performs a lock-free binary search for the topic
func (b *Bus[T]) findGroup(topic string) *group[T] {
	reg := b.subs.Load()
	keys := reg.keys

	// Inlined binary search for better cache locality
	left, right := 0, len(keys)
	for left < right {
		mid := left + (right-left)/2
		if keys[mid] < topic {
			left = mid + 1
		} else {
			right = mid
		}
	}

	if left < len(keys) && keys[left] == topic {
		return reg.grps[left]
	}
	return nil
}

// Subscribe registers handler for the topic. Values published to the topic
// are delivered on the subscriber's own goroutine, in publish order.
func (b *Bus[T]) Subscribe(topic string, handler func(T)) context.CancelFunc {
	if b.isClosed() {
		panic(errClosed)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Check if group already exists
	if grp := b.findGroup(topic); grp != nil {
		sub := grp.Add(handler)
		return func() {
			grp.Del(sub)
		}
	}

	// Create new group
	grp := &group[T]{cond: sync.NewCond(new(sync.Mutex)), maxQueue: b.maxQueue}
	sub := grp.Add(handler)

	// Copy-on-write: insert new entry in sorted position
	old := b.subs.Load()
	idx := sort.SearchStrings(old.keys, topic)

	newKeys := make([]string, len(old.keys)+1)
	newGrps := make([]*group[T], len(old.grps)+1)

	copy(newKeys[:idx], old.keys[:idx])
	copy(newGrps[:idx], old.grps[:idx])

	newKeys[idx] = topic
	newGrps[idx] = grp

	copy(newKeys[idx+1:], old.keys[idx:])
	copy(newGrps[idx+1:], old.grps[idx:])

	// Atomically store the new registry (mutex ensures no concurrent writers)
	b.subs.Store(&registry[T]{keys: newKeys, grps: newGrps})

	return func() {
		grp.Del(sub)
	}
}

// Publish writes a value to all subscribers of the topic.
func (b *Bus[T]) Publish(topic string, v T) {
	if grp := b.findGroup(topic); grp != nil {
		grp.Broadcast(v)
	}
}

// count counts the number of subscribers for a topic, this is for testing only.
func (b *Bus[T]) count(topic string) int {
	if grp := b.findGroup(topic); grp != nil {
		return grp.Count()
	}
	return 0
}

var errClosed = fmt.Errorf("event bus is closed")
