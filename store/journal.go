package store

import (
	"container/ring"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one observed dispatch.
type Entry struct {
	Seq   uint64
	Time  time.Time
	Event string
	Keys  []string // changed keys, set on EventChanged entries
}

// Journal keeps a bounded history of dispatch activity and broadcasts new
// entries to subscribers. A subscriber with a full channel misses entries
// rather than blocking the dispatch cycle.
type Journal struct {
	clients  map[chan Entry]bool
	mu       sync.RWMutex
	buffer   *ring.Ring
	bufferMu sync.RWMutex
	seq      atomic.Uint64
}

// NewJournal creates a journal keeping the last size entries.
func NewJournal(size int) *Journal {
	if size < 1 {
		size = 1024
	}
	return &Journal{
		clients: make(map[chan Entry]bool),
		buffer:  ring.New(size),
	}
}

// Record stamps the entry with a sequence number and time, buffers it, and
// broadcasts it to subscribers.
func (j *Journal) Record(e Entry) {
	e.Seq = j.seq.Add(1)
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	j.bufferMu.Lock()
	j.buffer.Value = e
	j.buffer = j.buffer.Next()
	j.bufferMu.Unlock()

	j.Broadcast(e)
}

// History returns the buffered entries, oldest first.
func (j *Journal) History() []Entry {
	j.bufferMu.RLock()
	defer j.bufferMu.RUnlock()

	var history []Entry
	j.buffer.Do(func(p interface{}) {
		if e, ok := p.(Entry); ok {
			history = append(history, e)
		}
	})
	return history
}

// Subscribe returns a channel receiving future entries.
func (j *Journal) Subscribe() chan Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan Entry, 100)
	j.clients[ch] = true
	return ch
}

// Unsubscribe removes and closes the channel.
func (j *Journal) Unsubscribe(ch chan Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.clients, ch)
	close(ch)
}

// Broadcast sends the entry to every subscriber.
func (j *Journal) Broadcast(e Entry) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for client := range j.clients {
		select {
		case client <- e:
		default:
			// If client buffer is full, skip
		}
	}
}

// Observe returns a module recording every dispatch and every net change into
// j, via the EventDispatch and EventChanged hooks.
func Observe(j *Journal) Module {
	return func(s *Store) error {
		s.On(EventDispatch, func(_ State, payload any, _ *Store) (Result, error) {
			if d, ok := payload.(Dispatched); ok {
				j.Record(Entry{Event: d.Event})
			}
			return None(), nil
		})
		s.On(EventChanged, func(_ State, payload any, _ *Store) (Result, error) {
			if c, ok := payload.(Changed); ok {
				j.Record(Entry{Event: EventChanged, Keys: sortedKeys(c.Changes)})
			}
			return None(), nil
		})
		return nil
	}
}
