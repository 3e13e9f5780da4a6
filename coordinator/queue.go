package coordinator

import (
	"context"
	"errors"
	"sync"
)

var errQueueClosed = errors.New("transaction queue closed")

type task func(ctx context.Context)

// keyedQueue runs tasks in submission order per key. Each key with pending work
// owns one drain goroutine, so different transactions proceed in parallel while
// work for the same transaction is strictly ordered.
type keyedQueue struct {
	ctx context.Context

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

type lane struct {
	tasks []task
}

func newKeyedQueue(ctx context.Context) *keyedQueue {
	return &keyedQueue{
		ctx:   ctx,
		lanes: make(map[string]*lane),
	}
}

// Submit appends t to the lane for key. Returns false if the queue is closed.
func (q *keyedQueue) Submit(key string, t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if l, ok := q.lanes[key]; ok {
		l.tasks = append(l.tasks, t)
		return true
	}

	l := &lane{tasks: []task{t}}
	q.lanes[key] = l

	q.wg.Add(1)
	go q.drain(key, l)

	return true
}

// Do submits fn and waits for it to run. The wait honours ctx, but once
// submitted fn always runs to completion on the queue's own context.
//
// Do must not be called from a task running on the same key.
func (q *keyedQueue) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	if !q.Submit(key, func(ctx context.Context) {
		result <- fn(ctx)
	}) {
		return errQueueClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *keyedQueue) drain(key string, l *lane) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(l.tasks) == 0 {
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}

		t := l.tasks[0]
		l.tasks[0] = nil
		if len(l.tasks) == 1 {
			l.tasks = l.tasks[:0]
		} else {
			l.tasks = l.tasks[1:]
		}
		q.mu.Unlock()

		t(q.ctx)
	}
}

// Len returns the number of keys with pending or running work.
func (q *keyedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// Close rejects further submissions and waits for queued work to drain.
func (q *keyedQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()
}
