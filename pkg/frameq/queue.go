// Package frameq hands filled buffers from a hardware producer to a single
// consumer and recycles released buffers back to the producer.
package frameq

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handle is an index into the session buffer table.
type Handle int

// State is the owner of a buffer.
type State byte

const (
	StateFilling State = iota // owned by producer
	StateReady                // waiting in ready queue
	StateHeld                 // owned by consumer
	StateFree                 // in free pool
)

func (s State) String() string {
	switch s {
	case StateFilling:
		return "filling"
	case StateReady:
		return "ready"
	case StateHeld:
		return "held"
	case StateFree:
		return "free"
	}
	return "unknown"
}

var (
	ErrTimeout   = errors.New("frameq: timeout")
	ErrClosed    = errors.New("frameq: closed")
	ErrNotHeld   = errors.New("frameq: buffer not held by consumer")
	ErrBadHandle = errors.New("frameq: bad handle")
	ErrBadState  = errors.New("frameq: wrong buffer state")
)

// Producer takes free buffers back for refilling.
type Producer interface {
	Submit(h Handle) error
}

// Sink receives buffers from the producer side.
type Sink interface {
	Enqueue(h Handle) error
	Recycle(h Handle) error
}

// Queue is a bounded exchange between one producer and one consumer.
type Queue struct {
	Log zerolog.Logger

	producer Producer
	// submit is held while buffers go to producer, Close waits for it
	submit sync.Mutex

	mu     sync.Mutex
	states []State
	free   []Handle
	spare  []Handle

	// ready ring, capacity == len(states)
	ring []Handle
	head int
	size int

	notify chan struct{}
	done   chan struct{}
	closed bool

	enqueued  uint64
	dequeued  uint64
	released  uint64
	submitted uint64
	failed    uint64
	dropped   uint64
}

// New creates queue for count buffers, all of them in free pool.
func New(count int, producer Producer) *Queue {
	q := &Queue{
		Log:      log.Logger,
		producer: producer,
		states:   make([]State, count),
		free:     make([]Handle, 0, count),
		spare:    make([]Handle, 0, count),
		ring:     make([]Handle, count),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for i := 0; i < count; i++ {
		q.states[i] = StateFree
		q.free = append(q.free, Handle(i))
	}
	return q
}

// Len returns buffer count.
func (q *Queue) Len() int {
	return len(q.states)
}

// Enqueue is called from producer callback when buffer filled.
// It never blocks on the consumer.
func (q *Queue) Enqueue(h Handle) error {
	q.mu.Lock()
	if err := q.check(h, StateFilling); err != nil {
		if err == ErrClosed {
			q.dropped++
		}
		q.mu.Unlock()
		return err
	}

	i := q.head + q.size
	if i >= len(q.ring) {
		i -= len(q.ring)
	}
	q.ring[i] = h
	q.size++
	q.states[h] = StateReady
	q.enqueued++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return nil
}

// Recycle return unfilled buffer from producer to free pool.
// It will be submitted again on next Release or Resubmit.
func (q *Queue) Recycle(h Handle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.check(h, StateFilling); err != nil {
		return err
	}

	q.states[h] = StateFree
	q.free = append(q.free, h)
	return nil
}

// Dequeue wait up to timeout for ready buffer and return the oldest one.
func (q *Queue) Dequeue(timeout time.Duration) (Handle, error) {
	if h, err := q.pop(); err != ErrTimeout {
		return h, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
		case <-q.done:
			return -1, ErrClosed
		case <-timer.C:
			// last chance for a frame that raced with the timer
			return q.pop()
		}

		if h, err := q.pop(); err != ErrTimeout {
			return h, err
		}
	}
}

// Release return buffer from consumer and resubmit all free buffers.
func (q *Queue) Release(h Handle) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if h < 0 || int(h) >= len(q.states) {
		q.mu.Unlock()
		return ErrBadHandle
	}
	if q.states[h] != StateHeld {
		q.mu.Unlock()
		return ErrNotHeld
	}
	q.states[h] = StateFree
	q.free = append(q.free, h)
	q.released++
	q.mu.Unlock()

	q.Resubmit()

	return nil
}

// Resubmit send all free buffers to producer. Failed buffers stay in free pool.
// Buffers not yet submitted when the queue closes are kept free.
func (q *Queue) Resubmit() (n int) {
	q.submit.Lock()
	defer q.submit.Unlock()

	q.mu.Lock()
	if q.closed || len(q.free) == 0 {
		q.mu.Unlock()
		return 0
	}

	pending := q.free
	q.free, q.spare = q.spare[:0], nil
	for _, h := range pending {
		q.states[h] = StateFilling
	}
	q.mu.Unlock()

	for i, h := range pending {
		q.mu.Lock()
		if q.closed {
			for _, h = range pending[i:] {
				q.states[h] = StateFree
				q.free = append(q.free, h)
			}
			q.mu.Unlock()
			break
		}
		q.mu.Unlock()

		err := q.producer.Submit(h)

		q.mu.Lock()
		if err == nil {
			q.submitted++
			n++
		} else {
			q.failed++
			if q.states[h] == StateFilling {
				q.states[h] = StateFree
				q.free = append(q.free, h)
			}
		}
		q.mu.Unlock()

		if err != nil {
			q.Log.Warn().Err(err).Int("buffer", int(h)).Msg("[frameq] submit")
		}
	}

	q.mu.Lock()
	if q.spare == nil {
		q.spare = pending[:0]
	}
	q.mu.Unlock()

	return n
}

// Close wake up blocked Dequeue and reject all next calls. Ready buffers are dropped.
// It returns after a Submit in progress has finished, so producer can be
// torn down right after.
func (q *Queue) Close() {
	q.close()

	q.submit.Lock()
	q.submit.Unlock()
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	for ; q.size > 0; q.size-- {
		h := q.ring[q.head]
		q.states[h] = StateFree
		q.free = append(q.free, h)
		if q.head++; q.head == len(q.ring) {
			q.head = 0
		}
		q.dropped++
	}

	close(q.done)
}

// Done is closed by Close.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// State returns current owner of buffer h.
func (q *Queue) State(h Handle) (State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if h < 0 || int(h) >= len(q.states) {
		return 0, ErrBadHandle
	}
	return q.states[h], nil
}

// Stats is a snapshot of per-state counts and lifetime counters.
type Stats struct {
	Count   int `json:"count"`
	Free    int `json:"free"`
	Filling int `json:"filling"`
	Ready   int `json:"ready"`
	Held    int `json:"held"`

	Enqueued  uint64 `json:"enqueued"`
	Dequeued  uint64 `json:"dequeued"`
	Released  uint64 `json:"released"`
	Submitted uint64 `json:"submitted"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`

	Closed bool `json:"closed,omitempty"`
}

// Stats returns counts taken under one lock, so they always sum to Count.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Count:     len(q.states),
		Enqueued:  q.enqueued,
		Dequeued:  q.dequeued,
		Released:  q.released,
		Submitted: q.submitted,
		Failed:    q.failed,
		Dropped:   q.dropped,
		Closed:    q.closed,
	}

	for _, state := range q.states {
		switch state {
		case StateFilling:
			s.Filling++
		case StateReady:
			s.Ready++
		case StateHeld:
			s.Held++
		case StateFree:
			s.Free++
		}
	}

	return s
}

func (q *Queue) pop() (Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return -1, ErrClosed
	}
	if q.size == 0 {
		return -1, ErrTimeout
	}

	h := q.ring[q.head]
	if q.head++; q.head == len(q.ring) {
		q.head = 0
	}
	q.size--
	q.states[h] = StateHeld
	q.dequeued++

	return h, nil
}

// check must be called under lock
func (q *Queue) check(h Handle, want State) error {
	if q.closed {
		return ErrClosed
	}
	if h < 0 || int(h) >= len(q.states) {
		return ErrBadHandle
	}
	if q.states[h] != want {
		return ErrBadState
	}
	return nil
}
