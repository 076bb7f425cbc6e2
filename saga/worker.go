package saga

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// WorkerConfig configures worker behavior.
type WorkerConfig struct {
	Concurrency  int           // Number of concurrent instance executors
	Workflows    []string      // Workflow names to handle; empty means all registered
	PollInterval time.Duration // Poll frequency when no work is available
}

// Worker polls the store for runnable instances and drives them to
// completion. Crashed executors are recovered automatically: once a claimed
// instance's lease expires it becomes runnable again, and re-driving it is
// safe because recorded outcomes are never re-executed.
type Worker struct {
	engine *Engine
	config WorkerConfig
	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup

	inflight  atomic.Int64
	processed atomic.Int64
}

// NewWorker creates a new worker instance.
func NewWorker(engine *Engine, config WorkerConfig) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 250 * time.Millisecond
	}
	if len(config.Workflows) == 0 {
		config.Workflows = engine.registry.WorkflowNames()
	}
	return &Worker{
		engine: engine,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run starts the worker. Blocks until Stop is called or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.doneCh)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(workerCtx)
	}

	select {
	case <-w.stopCh:
		cancel()
	case <-ctx.Done():
		cancel()
	}

	w.wg.Wait()
	return nil
}

// Stop gracefully stops the worker and waits for in-flight instances.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// Processed returns how many instances this worker drove to a terminal
// state.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Inflight returns how many instances are currently executing.
func (w *Worker) Inflight() int64 { return w.inflight.Load() }

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		worked, err := w.pollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			w.engine.logger.Error("worker poll failed", "error", err)
		}
		if !worked {
			if err := sleepCtx(ctx, w.config.PollInterval); err != nil {
				return
			}
		}
	}
}

// pollOnce claims at most one runnable instance and drives it to a terminal
// state. Returns false when no work was available.
func (w *Worker) pollOnce(ctx context.Context) (bool, error) {
	inst, err := w.engine.store.ClaimNext(ctx, w.config.Workflows, w.engine.opts.Lease)
	if err != nil {
		return false, err
	}
	if inst == nil {
		return false, nil
	}

	w.inflight.Inc()
	defer w.inflight.Dec()

	if err := w.engine.drive(ctx, inst.ID); err != nil {
		// The claim lease expires on its own; another executor picks the
		// instance back up.
		return true, err
	}
	w.processed.Inc()
	return true, nil
}
