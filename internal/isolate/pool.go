// pool.go — the fixed worker pool of single-threaded executors.
//
// Isolates are non-movable: once built on a thread, they may only run or be
// destroyed on that same thread. Pool models this as a fixed number of
// goroutines, each draining its own buffered channel of tasks serially,
// deliberately avoiding a work-stealing scheduler since that would move an
// isolate task across the thread that owns its state.
package isolate

import "fmt"

// Pool is a fixed set of single-threaded executors, indexed [0, Size).
type Pool struct {
	queues []chan func()
	done   chan struct{}
}

// NewPool starts size worker goroutines and returns the Pool that submits
// to them. Each worker's queue is buffered so Submit does not block the
// caller under ordinary load.
func NewPool(size int, queueDepth int) *Pool {
	if size < 1 {
		panic("isolate: pool size must be >= 1")
	}
	p := &Pool{
		queues: make([]chan func(), size),
		done:   make(chan struct{}),
	}
	for i := range p.queues {
		q := make(chan func(), queueDepth)
		p.queues[i] = q
		go p.run(q)
	}
	return p
}

func (p *Pool) run(q chan func()) {
	for {
		select {
		case task := <-q:
			task()
		case <-p.done:
			// Drain whatever is already queued before exiting, so
			// in-flight Submits from before Shutdown still complete.
			for {
				select {
				case task := <-q:
					task()
				default:
					return
				}
			}
		}
	}
}

// Size reports the number of worker threads.
func (p *Pool) Size() int { return len(p.queues) }

// Submit enqueues task on the worker addressed by threadIndex. Tasks
// addressed to the same thread execute serially and in FIFO order with
// respect to each other; tasks on different threads may run concurrently.
func (p *Pool) Submit(threadIndex int, task func()) error {
	if threadIndex < 0 || threadIndex >= len(p.queues) {
		return fmt.Errorf("isolate: thread index %d out of range [0,%d)", threadIndex, len(p.queues))
	}
	p.queues[threadIndex] <- task
	return nil
}

// Shutdown signals every worker to stop accepting new iterations once its
// current queue has drained. It does not wait for completion; callers that
// need that should coordinate via their own WaitGroup around submitted
// tasks.
func (p *Pool) Shutdown() {
	close(p.done)
}
