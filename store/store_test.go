package store

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countModule owns the "count" key: zero on init, incremented on "inc".
func countModule(s *Store) error {
	s.On(EventInit, func(State, any, *Store) (Result, error) {
		return Settled(Delta{"count": 0}), nil
	})
	s.On("inc", func(state State, _ any, _ *Store) (Result, error) {
		return Settled(Delta{"count": state["count"].(int) + 1}), nil
	})
	return nil
}

func TestInitDeterminism(t *testing.T) {
	s, err := New(countModule)
	require.NoError(t, err)

	// no dispatch from the caller, @init already ran
	assert.Equal(t, 0, s.Get()["count"])
}

func TestModuleErrorAbortsConstruction(t *testing.T) {
	_, err := New(countModule, func(*Store) error {
		return errors.New("bad wiring")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module 1")
}

func TestRegistrationOrder(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	var log []int
	for i := 0; i < 5; i++ {
		i := i
		s.On("evt", func(State, any, *Store) (Result, error) {
			log = append(log, i)
			return None(), nil
		})
	}

	require.NoError(t, s.Dispatch("evt", nil))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, log)
}

func TestMergeSemantics(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	s.On("set", func(State, any, *Store) (Result, error) {
		return Settled(Delta{"x": 1}), nil
	})
	s.On("set", func(state State, _ any, _ *Store) (Result, error) {
		// later handlers in the same cycle observe earlier deltas
		assert.Equal(t, 1, state["x"])
		return Settled(Delta{"y": 2}), nil
	})

	var changed Changed
	s.On(EventChanged, func(_ State, payload any, _ *Store) (Result, error) {
		changed = payload.(Changed)
		return None(), nil
	})

	require.NoError(t, s.Dispatch("set", nil))
	assert.Equal(t, Delta{"x": 1, "y": 2}, changed.Changes)
	assert.Equal(t, 1, changed.State["x"])
	assert.Equal(t, 2, changed.State["y"])
	assert.Equal(t, State{"x": 1, "y": 2}, s.Get())
}

func TestSameKeyLastHandlerWins(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	s.On("set", func(State, any, *Store) (Result, error) {
		return Settled(Delta{"x": 1}), nil
	})
	s.On("set", func(State, any, *Store) (Result, error) {
		return Settled(Delta{"x": 2}), nil
	})

	require.NoError(t, s.Dispatch("set", nil))
	assert.Equal(t, 2, s.Get()["x"])
}

func TestNoHandlersNoChanged(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	fired := false
	s.On(EventChanged, func(State, any, *Store) (Result, error) {
		fired = true
		return None(), nil
	})

	require.NoError(t, s.Dispatch("nothing-registered", nil))
	assert.False(t, fired)
}

func TestPendingExcludedFromMerge(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	fired := false
	s.On("fetch", func(State, any, *Store) (Result, error) {
		return Pending(), nil
	})
	s.On(EventChanged, func(State, any, *Store) (Result, error) {
		fired = true
		return None(), nil
	})

	require.NoError(t, s.Dispatch("fetch", nil))
	assert.Empty(t, s.Get())
	assert.False(t, fired)
}

func TestPendingThenSettledDispatch(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	s.On("fetch", func(_ State, _ any, st *Store) (Result, error) {
		go func() {
			// resolved payload arrives in a later cycle
			_ = st.Dispatch("fetched", "result")
		}()
		return Pending(), nil
	})
	s.On("fetched", func(_ State, payload any, _ *Store) (Result, error) {
		return Settled(Delta{"data": payload}), nil
	})

	require.NoError(t, s.Dispatch("fetch", nil))
	assert.Eventually(t, func() bool {
		return s.Get()["data"] == "result"
	}, time.Second, 5*time.Millisecond)
}

func TestIdempotentUnsubscribe(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	var first, second int
	off := s.On("evt", func(State, any, *Store) (Result, error) {
		first++
		return None(), nil
	})
	s.On("evt", func(State, any, *Store) (Result, error) {
		second++
		return None(), nil
	})

	off()
	off() // no-op, must not remove the second handler

	require.NoError(t, s.Dispatch("evt", nil))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestHandlerErrorAbortsCycle(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	ranAfter := false
	s.On("op", func(State, any, *Store) (Result, error) {
		return Settled(Delta{"x": 1}), nil
	})
	s.On("op", func(State, any, *Store) (Result, error) {
		return None(), errors.New("boom")
	})
	s.On("op", func(State, any, *Store) (Result, error) {
		ranAfter = true
		return None(), nil
	})

	err = s.Dispatch("op", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, ranAfter)
	// no rollback of deltas applied earlier in the cycle
	assert.Equal(t, 1, s.Get()["x"])
}

func TestMetaEventOrdering(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	var log []string
	s.On(EventDispatch, func(_ State, payload any, _ *Store) (Result, error) {
		d := payload.(Dispatched)
		log = append(log, fmt.Sprintf("@dispatch:%s:%d", d.Event, d.Handlers))
		return None(), nil
	})
	s.On("ping", func(State, any, *Store) (Result, error) {
		log = append(log, "ping")
		return Settled(Delta{"pinged": true}), nil
	})
	s.On(EventChanged, func(State, any, *Store) (Result, error) {
		log = append(log, "@changed")
		return None(), nil
	})

	require.NoError(t, s.Dispatch("ping", "payload"))
	assert.Equal(t, []string{"@dispatch:ping:1", "ping", "@changed"}, log)
}

func TestChangedAtMostOncePerDispatch(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	changed := 0
	s.On("multi", func(State, any, *Store) (Result, error) {
		return Settled(Delta{"a": 1}), nil
	})
	s.On("multi", func(State, any, *Store) (Result, error) {
		return Settled(Delta{"b": 2}), nil
	})
	s.On(EventChanged, func(State, any, *Store) (Result, error) {
		changed++
		// a delta from a changed-handler merges but never re-triggers
		return Settled(Delta{"observed": true}), nil
	})

	require.NoError(t, s.Dispatch("multi", nil))
	assert.Equal(t, 1, changed)
	assert.Equal(t, true, s.Get()["observed"])
}

func TestOnDuringDispatchUsesSnapshot(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	inner := 0
	registered := false
	s.On("e", func(_ State, _ any, st *Store) (Result, error) {
		if !registered {
			registered = true
			st.On("e", func(State, any, *Store) (Result, error) {
				inner++
				return None(), nil
			})
		}
		return None(), nil
	})

	require.NoError(t, s.Dispatch("e", nil))
	assert.Equal(t, 0, inner, "registration during a cycle must not run in that cycle")

	require.NoError(t, s.Dispatch("e", nil))
	assert.Equal(t, 1, inner)
}

func TestPayloadReachesHandlers(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	var got any
	s.On("evt", func(_ State, payload any, _ *Store) (Result, error) {
		got = payload
		return None(), nil
	})

	require.NoError(t, s.Dispatch("evt", map[string]int{"n": 7}))
	assert.Equal(t, map[string]int{"n": 7}, got)
}

func TestGetReturnsCopy(t *testing.T) {
	s, err := New(countModule)
	require.NoError(t, err)

	snap := s.Get()
	snap["count"] = 99
	assert.Equal(t, 0, s.Get()["count"])
}

func TestAsyncEventsSelectiveTopics(t *testing.T) {
	s, err := New(countModule)
	require.NoError(t, err)
	defer s.Close()

	var countHits, otherHits atomic.Int32
	done := make(chan Changed, 1)

	cancel := s.Events().Subscribe("count", func(c Changed) {
		countHits.Add(1)
		done <- c
	})
	defer cancel()
	cancelOther := s.Events().Subscribe("other", func(Changed) {
		otherHits.Add(1)
	})
	defer cancelOther()

	require.NoError(t, s.Dispatch("inc", nil))

	select {
	case c := <-done:
		assert.Equal(t, 1, c.Changes["count"])
		assert.Equal(t, 1, c.State["count"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async notification")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), countHits.Load())
	assert.Equal(t, int32(0), otherHits.Load(), "untouched topic must stay quiet")
}

func TestConcurrentDispatchSerialized(t *testing.T) {
	s, err := New(countModule)
	require.NoError(t, err)

	const n = 50
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- s.Dispatch("inc", nil)
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	assert.Equal(t, n, s.Get()["count"])
}
