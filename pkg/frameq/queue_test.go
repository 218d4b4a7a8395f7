package frameq

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type producer struct {
	mu       sync.Mutex
	inflight []Handle
	fail     map[Handle]int // remaining failures per handle
}

func (p *producer) Submit(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.fail[h]; n > 0 {
		p.fail[h] = n - 1
		return errors.New("no space")
	}
	p.inflight = append(p.inflight, h)
	return nil
}

// complete pops oldest submitted buffer
func (p *producer) complete() (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.inflight) == 0 {
		return -1, false
	}
	h := p.inflight[0]
	p.inflight = p.inflight[1:]
	return h, true
}

func (p *producer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

func newQueue(count int) (*Queue, *producer) {
	p := &producer{fail: map[Handle]int{}}
	q := New(count, p)
	q.Log = zerolog.Nop()
	return q, p
}

func requireTotal(t *testing.T, q *Queue) {
	s := q.Stats()
	require.Equal(t, s.Count, s.Free+s.Filling+s.Ready+s.Held, "%+v", s)
}

func TestScenario(t *testing.T) {
	q, p := newQueue(5)

	require.Equal(t, 5, q.Resubmit())
	require.Equal(t, 5, p.count())
	require.Equal(t, 5, q.Stats().Filling)

	var produced []Handle
	for i := 0; i < 3; i++ {
		h, ok := p.complete()
		require.True(t, ok)
		require.Nil(t, q.Enqueue(h))
		produced = append(produced, h)
	}
	requireTotal(t, q)

	var consumed []Handle
	for i := 0; i < 3; i++ {
		h, err := q.Dequeue(time.Second)
		require.Nil(t, err)
		consumed = append(consumed, h)
	}
	require.Equal(t, produced, consumed)
	require.Equal(t, 3, q.Stats().Held)

	for _, h := range consumed {
		require.Nil(t, q.Release(h))
		requireTotal(t, q)
	}

	s := q.Stats()
	require.Equal(t, 0, s.Free)
	require.Equal(t, 5, s.Filling)
	require.Equal(t, 5, p.count())
}

func TestFIFO(t *testing.T) {
	q, p := newQueue(3)
	q.Resubmit()

	a, _ := p.complete()
	b, _ := p.complete()
	require.Nil(t, q.Enqueue(a))
	require.Nil(t, q.Enqueue(b))

	h, err := q.Dequeue(time.Second)
	require.Nil(t, err)
	require.Equal(t, a, h)

	h, err = q.Dequeue(time.Second)
	require.Nil(t, err)
	require.Equal(t, b, h)
}

func TestRingWrap(t *testing.T) {
	q, p := newQueue(2)
	q.Resubmit()

	for i := 0; i < 10; i++ {
		h, ok := p.complete()
		require.True(t, ok)
		require.Nil(t, q.Enqueue(h))

		h2, err := q.Dequeue(time.Second)
		require.Nil(t, err)
		require.Equal(t, h, h2)
		require.Nil(t, q.Release(h2))
	}

	require.Equal(t, uint64(10), q.Stats().Dequeued)
}

func TestDequeueTimeout(t *testing.T) {
	q, _ := newQueue(5)

	const timeout = 50 * time.Millisecond

	t0 := time.Now()
	h, err := q.Dequeue(timeout)
	elapsed := time.Since(t0)

	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, Handle(-1), h)
	require.GreaterOrEqual(t, elapsed, timeout)
	require.Less(t, elapsed, timeout+250*time.Millisecond)
}

func TestDequeueWakeup(t *testing.T) {
	q, p := newQueue(5)
	q.Resubmit()

	go func() {
		time.Sleep(20 * time.Millisecond)
		h, _ := p.complete()
		_ = q.Enqueue(h)
	}()

	t0 := time.Now()
	_, err := q.Dequeue(5 * time.Second)
	require.Nil(t, err)
	require.Less(t, time.Since(t0), time.Second)
}

func TestDoubleRelease(t *testing.T) {
	q, p := newQueue(2)
	q.Resubmit()

	h, _ := p.complete()
	require.Nil(t, q.Enqueue(h))

	h, err := q.Dequeue(time.Second)
	require.Nil(t, err)
	require.Nil(t, q.Release(h))

	before := q.Stats()
	require.ErrorIs(t, q.Release(h), ErrNotHeld)
	require.Equal(t, before, q.Stats())

	// never dequeued
	require.ErrorIs(t, q.Release(1), ErrNotHeld)
	require.ErrorIs(t, q.Release(7), ErrBadHandle)
}

func TestEnqueueWrongState(t *testing.T) {
	q, _ := newQueue(2)

	// buffer is free, not with producer
	require.ErrorIs(t, q.Enqueue(0), ErrBadState)
	require.ErrorIs(t, q.Enqueue(-1), ErrBadHandle)
	requireTotal(t, q)
}

func TestSubmitFailure(t *testing.T) {
	q, p := newQueue(3)
	p.fail[1] = 1

	require.Equal(t, 2, q.Resubmit())

	s := q.Stats()
	require.Equal(t, 1, s.Free)
	require.Equal(t, 2, s.Filling)
	require.Equal(t, uint64(1), s.Failed)

	state, err := q.State(1)
	require.Nil(t, err)
	require.Equal(t, StateFree, state)

	h, _ := p.complete()
	require.Nil(t, q.Enqueue(h))
	h, err = q.Dequeue(time.Second)
	require.Nil(t, err)

	// release also retries buffer 1
	require.Nil(t, q.Release(h))

	s = q.Stats()
	require.Equal(t, 0, s.Free)
	require.Equal(t, 3, s.Filling)
	require.Equal(t, 3, p.count())
}

func TestRecycle(t *testing.T) {
	q, p := newQueue(3)
	q.Resubmit()

	skipped, _ := p.complete()
	require.Nil(t, q.Recycle(skipped))
	require.Equal(t, 1, q.Stats().Free)

	h, _ := p.complete()
	require.Nil(t, q.Enqueue(h))
	h, _ = q.Dequeue(time.Second)
	require.Nil(t, q.Release(h))

	// both recycled and released buffers go back to producer
	s := q.Stats()
	require.Equal(t, 0, s.Free)
	require.Equal(t, 3, s.Filling)
}

func TestCloseUnblocks(t *testing.T) {
	q, _ := newQueue(5)

	errs := make(chan error)
	go func() {
		_, err := q.Dequeue(10 * time.Second)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	t0 := time.Now()
	q.Close()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrClosed)
		require.Less(t, time.Since(t0), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue not unblocked")
	}
}

func TestClose(t *testing.T) {
	q, p := newQueue(3)
	q.Resubmit()

	h, _ := p.complete()
	require.Nil(t, q.Enqueue(h))

	q.Close()
	q.Close()

	s := q.Stats()
	require.True(t, s.Closed)
	require.Equal(t, 0, s.Ready)
	require.Equal(t, uint64(1), s.Dropped)
	requireTotal(t, q)

	h, _ = p.complete()
	require.ErrorIs(t, q.Enqueue(h), ErrClosed)
	require.ErrorIs(t, q.Release(h), ErrClosed)
	require.Equal(t, 0, q.Resubmit())

	_, err := q.Dequeue(time.Second)
	require.ErrorIs(t, err, ErrClosed)

	select {
	case <-q.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestConservation(t *testing.T) {
	q, p := newQueue(5)
	q.Resubmit()

	rnd := rand.New(rand.NewSource(1))
	var held []Handle

	for i := 0; i < 2000; i++ {
		switch rnd.Intn(4) {
		case 0:
			if h, ok := p.complete(); ok {
				require.Nil(t, q.Enqueue(h))
			}
		case 1:
			if h, err := q.Dequeue(0); err == nil {
				held = append(held, h)
			} else {
				require.ErrorIs(t, err, ErrTimeout)
			}
		case 2:
			if len(held) > 0 {
				j := rnd.Intn(len(held))
				require.Nil(t, q.Release(held[j]))
				held = append(held[:j], held[j+1:]...)
			}
		case 3:
			if h, ok := p.complete(); ok && rnd.Intn(4) == 0 {
				require.Nil(t, q.Recycle(h))
			} else if ok {
				require.Nil(t, q.Enqueue(h))
			}
		}

		s := q.Stats()
		require.Equal(t, 5, s.Free+s.Filling+s.Ready+s.Held)
		require.Equal(t, len(held), s.Held)
		require.Equal(t, p.count(), s.Filling)
	}
}

func TestConcurrent(t *testing.T) {
	q, p := newQueue(5)
	q.Resubmit()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if h, ok := p.complete(); ok {
				_ = q.Enqueue(h)
			} else {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for i := 0; i < 500; i++ {
		h, err := q.Dequeue(time.Second)
		require.Nil(t, err)
		require.Nil(t, q.Release(h))
	}

	close(stop)
	wg.Wait()
	q.Close()
	requireTotal(t, q)
}

type blockingProducer struct {
	producer
	entered chan Handle
	unblock chan struct{}
}

func (p *blockingProducer) Submit(h Handle) error {
	p.entered <- h
	<-p.unblock
	return p.producer.Submit(h)
}

func TestCloseDuringSubmit(t *testing.T) {
	p := &blockingProducer{
		producer: producer{fail: map[Handle]int{}},
		entered:  make(chan Handle, 5),
		unblock:  make(chan struct{}),
	}
	q := New(3, p)
	q.Log = zerolog.Nop()

	submitted := make(chan int)
	go func() {
		submitted <- q.Resubmit()
	}()

	require.Equal(t, Handle(0), <-p.entered)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	// Close waits for submit in progress
	select {
	case <-closed:
		t.Fatal("close returned during submit")
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, q.Stats().Closed)
	close(p.unblock)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close not finished")
	}

	// rest of snapshot never reaches producer
	require.Equal(t, 1, <-submitted)
	require.Equal(t, 1, p.count())
	require.Len(t, p.entered, 0)

	s := q.Stats()
	require.Equal(t, 1, s.Filling)
	require.Equal(t, 2, s.Free)
	requireTotal(t, q)
}
