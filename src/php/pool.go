package php

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// workItem is what flows through the bounded work channel: a request to
// execute and a reply slot the worker sends its result to (§4.5 step 2).
type workItem struct {
	scriptPath string
	reply      chan scriptResult
}

type scriptResult struct {
	output []byte
	err    error
}

// WorkerPool is the embedded-backend worker pool (§4.5). Construction
// blocks until every worker has completed thread_init, enforced by a
// barrier of arity pool_size+1 (§8 "Worker readiness barrier").
type WorkerPool struct {
	module           *Module
	poolSize         int
	maxRequestsPerWK int

	work chan workItem
	wg   sync.WaitGroup

	activeWorkers atomic.Int64
}

// NewWorkerPool performs the §4.5 construction sequence: module_startup
// once, a bounded channel of depth 2*poolSize, poolSize worker goroutines
// each doing thread_init then waiting on a readiness barrier, and finally
// the constructor itself waiting on that same barrier before returning.
func NewWorkerPool(module *Module, poolSize, maxRequestsPerWorker int) (*WorkerPool, error) {
	if err := module.Startup(); err != nil {
		return nil, fmt.Errorf("starting interpreter module: %w", err)
	}

	p := &WorkerPool{
		module:           module,
		poolSize:         poolSize,
		maxRequestsPerWK: maxRequestsPerWorker,
		work:             make(chan workItem, 2*poolSize),
	}

	var barrier sync.WaitGroup
	barrier.Add(poolSize + 1)

	for i := 0; i < poolSize; i++ {
		p.wg.Add(1)
		go p.runWorker(&barrier)
	}

	barrier.Done() // the constructor's own arrival at the barrier
	barrier.Wait() // released only once every worker has signalled readiness

	return p, nil
}

func (p *WorkerPool) runWorker(barrier *sync.WaitGroup) {
	defer p.wg.Done()

	if err := p.module.ThreadInit(); err != nil {
		// A worker that fails thread_init never becomes ready; it still
		// must signal the barrier so construction doesn't hang forever,
		// then it exits without entering the serving loop.
		barrier.Done()
		return
	}
	p.activeWorkers.Add(1)
	barrier.Done()

	// A panic while serving is contained to this worker: it is not replaced,
	// the pending caller's reply slot is closed without a result, and
	// thread_cleanup and the active-worker decrement still run.
	var current chan scriptResult
	defer func() {
		if r := recover(); r != nil && current != nil {
			close(current)
		}
		p.module.ThreadCleanup()
		p.activeWorkers.Add(-1)
	}()

	served := 0
	for item := range p.work {
		current = item.reply
		output, err := p.module.ExecuteScript(item.scriptPath)
		served++

		select {
		case item.reply <- scriptResult{output: output, err: err}:
		default:
			// Reply slot abandoned (§4.5 "Cancellation"): caller stopped
			// waiting; the result is simply discarded.
		}
		close(item.reply)
		current = nil

		if p.maxRequestsPerWK > 0 && served >= p.maxRequestsPerWK {
			break
		}
	}
}

// Execute enqueues a script execution and blocks until a worker replies or
// ctx is cancelled. Backend execution itself is non-cancellable once a
// worker has picked it up (§5 "Cancellation"); cancelling ctx before that
// point simply abandons the reply slot.
func (p *WorkerPool) Execute(ctx context.Context, scriptPath string) ([]byte, error) {
	reply := make(chan scriptResult, 1)
	item := workItem{scriptPath: scriptPath, reply: reply}

	select {
	case p.work <- item:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("worker closed reply channel without a result")
		}
		return res.output, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveWorkers reports the number of workers currently past thread_init
// and not yet exited, for health checks and the admin status command.
func (p *WorkerPool) ActiveWorkers() int64 {
	return p.activeWorkers.Load()
}

// Shutdown closes the work channel, waits for every worker to exit its
// serving loop and run thread_cleanup, and only then calls module_shutdown
// (§4.5 "the process calls module_shutdown only after all workers exited").
func (p *WorkerPool) Shutdown() {
	close(p.work)
	p.wg.Wait()
	p.module.Shutdown()
}
