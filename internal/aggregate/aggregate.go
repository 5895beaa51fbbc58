// Package aggregate implements the event aggregator (C7): an optional
// wrapper between a subscription's sink and the wire that coalesces events
// within a time window. Grounded on spec.md §4.7.
package aggregate

import (
	"sync"
	"time"

	"github.com/adred-codev/worterbuch/internal/pubsub"
	"github.com/adred-codev/worterbuch/internal/workerpool"
)

// Aggregator coalesces Events arriving on In within Window into a single
// merged Event emitted on Out at window expiry, last-write-wins per key,
// preserving first-arrival key order. The first event is always forwarded
// immediately, matching live_only's "first event through" behavior.
type Aggregator struct {
	Window time.Duration
	In     <-chan pubsub.Event
	Out    chan<- pubsub.Event

	pool *workerpool.WorkerPool

	mu      sync.Mutex
	pending map[string]string // key -> last value, in first-arrival order via order slice
	order   []string
	deleted map[string]bool
	armed   bool
}

// New creates an aggregator draining in and writing coalesced events to
// out, scheduling window flushes through pool.
func New(window time.Duration, in <-chan pubsub.Event, out chan<- pubsub.Event, pool *workerpool.WorkerPool) *Aggregator {
	return &Aggregator{
		Window:  window,
		In:      in,
		Out:     out,
		pool:    pool,
		pending: make(map[string]string),
		deleted: make(map[string]bool),
	}
}

// Run drains In until it closes, forwarding the first event it receives
// immediately and coalescing every later event into windows.
// Intended to run in its own goroutine (the per-subscription forwarder).
func (a *Aggregator) Run() {
	first := true
	for ev := range a.In {
		if first {
			first = false
			a.Out <- ev
			continue
		}
		a.buffer(ev)
	}
	close(a.Out)
}

func (a *Aggregator) buffer(ev pubsub.Event) {
	a.mu.Lock()
	for _, kv := range ev.KeyValuePairs {
		if _, seen := a.pending[kv.Key]; !seen {
			a.order = append(a.order, kv.Key)
		}
		a.pending[kv.Key] = kv.Value
		delete(a.deleted, kv.Key)
	}
	for _, key := range ev.Deleted {
		if _, seen := a.pending[key]; !seen {
			a.order = append(a.order, key)
		}
		a.pending[key] = ""
		a.deleted[key] = true
	}
	armed := a.armed
	a.armed = true
	a.mu.Unlock()

	if !armed {
		a.pool.Submit(func() {
			time.Sleep(a.Window)
			a.flush()
		})
	}
}

// flush coalesces the buffered events into a single merged event, emitting
// nothing if no events arrived during the window.
func (a *Aggregator) flush() {
	a.mu.Lock()
	if len(a.order) == 0 {
		a.armed = false
		a.mu.Unlock()
		return
	}
	order := a.order
	pending := a.pending
	deleted := a.deleted
	a.order = nil
	a.pending = make(map[string]string)
	a.deleted = make(map[string]bool)
	a.armed = false
	a.mu.Unlock()

	merged := pubsub.Event{}
	for _, key := range order {
		if deleted[key] {
			merged.Deleted = append(merged.Deleted, key)
		} else {
			merged.KeyValuePairs = append(merged.KeyValuePairs, pubsub.KeyValue{Key: key, Value: pending[key]})
		}
	}
	a.Out <- merged
}
