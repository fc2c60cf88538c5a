// Package dispatch hands work from I/O goroutines to the single goroutine
// that owns simulation and session state.
package dispatch

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Action is a unit of work run on the draining goroutine.
type Action func()

// Observer receives the number of actions run by each drain.
type Observer func(depth int)

// Queue is safe for concurrent producers and a single consumer.
type Queue struct {
	name     string
	mu       sync.Mutex
	pending  []Action
	spare    []Action
	observer Observer
}

func New(name string, observer Observer) *Queue {
	return &Queue{name: name, observer: observer}
}

func (q *Queue) Enqueue(a Action) {
	if q == nil || a == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, a)
	q.mu.Unlock()
}

// DrainAndRunAll runs every action queued before the call in FIFO order.
// Actions enqueued while draining wait for the next drain.
func (q *Queue) DrainAndRunAll() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	batch := q.pending
	q.pending = q.spare[:0]
	q.mu.Unlock()

	for i, a := range batch {
		q.run(a)
		batch[i] = nil
	}

	q.mu.Lock()
	q.spare = batch[:0]
	q.mu.Unlock()

	if q.observer != nil {
		q.observer(len(batch))
	}
	return len(batch)
}

func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) run(a Action) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("queue", q.name).Interface("panic", r).Msg("dispatch.Queue.DrainAndRunAll action panicked")
		}
	}()
	a()
}
