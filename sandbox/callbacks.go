package sandbox

import "sync"

const callbackBufferSize = 256

// callbacks runs native callbacks one at a time on their own goroutine, like
// a platform callback queue.
type callbacks struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newCallbacks() *callbacks {
	c := &callbacks{
		queue: make(chan func(), callbackBufferSize),
		done:  make(chan struct{}),
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.done:
				return
			case f := <-c.queue:
				f()
			}
		}
	}()
	return c
}

func (c *callbacks) run(f func()) {
	select {
	case c.queue <- f:
	case <-c.done:
	}
}

func (c *callbacks) close() {
	c.once.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}
