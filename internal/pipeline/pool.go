package pipeline

import (
	"sync"

	"go.uber.org/zap"
)

// Pool is a fixed-size worker pool fed by the transport callback. It caps
// the number of reading-processing tasks in flight: Submit blocks once the
// queue is full, which pushes backpressure into the transport delivery
// loop instead of growing goroutines without bound.
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	logger *zap.Logger

	closeOnce sync.Once
}

// NewPool creates a pool with the given worker count and queue size and
// starts its workers immediately.
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	p := &Pool{
		tasks:  make(chan func(), queueSize),
		logger: logger,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

// Submit enqueues a task for execution. Blocks while the queue is full.
// Must not be called after Close.
func (p *Pool) Submit(task func()) {
	p.tasks <- task
}

// QueueDepth returns the number of queued tasks not yet picked up.
func (p *Pool) QueueDepth() int {
	return len(p.tasks)
}

// Close stops accepting tasks and waits for queued work to drain.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

// run isolates each task so a panic in one message cannot take down the
// worker or the process.
func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in pipeline task", zap.Any("panic", r))
		}
	}()
	task()
}
