// Package workerpool provides a fixed-size, panic-safe goroutine pool
// draining a bounded task queue, grounded on the teacher's root-level
// worker_pool.go. internal/aggregate uses it to schedule per-subscription
// window-flush tasks instead of one goroutine per window.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/adred-codev/worterbuch/internal/metrics"
	"github.com/rs/zerolog"
)

// Task is a unit of work with no parameters or return value.
type Task func()

// WorkerPool is a fixed pool of goroutines draining a bounded task queue.
// If the queue is full, Submit drops the task rather than spawning an
// unbounded number of goroutines.
type WorkerPool struct {
	workerCount  int
	taskQueue    chan Task
	ctx          context.Context
	wg           sync.WaitGroup
	droppedTasks int64
	logger       zerolog.Logger
	component    string
}

// NewWorkerPool creates a pool with workerCount goroutines and a queue of
// queueSize. component labels panic-recovery metrics (wb_panics_recovered_total).
func NewWorkerPool(workerCount, queueSize int, logger zerolog.Logger, component string) *WorkerPool {
	return &WorkerPool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueSize),
		logger:      logger,
		component:   component,
	}
}

// Start launches the worker goroutines. Must be called once before Submit.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.ctx = ctx
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for {
		select {
		case task, ok := <-wp.taskQueue:
			if !ok {
				return
			}
			if task != nil {
				wp.runWithRecover(task)
			}
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) runWithRecover(task Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Str("component", wp.component).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues(wp.component).Inc()
		}
	}()
	task()
}

// Submit enqueues task for asynchronous execution. If the queue is full the
// task is dropped and the dropped-task counter is incremented; this bounds
// memory and goroutine growth under sustained overload instead of blocking
// the caller.
func (wp *WorkerPool) Submit(task Task) {
	select {
	case wp.taskQueue <- task:
	default:
		atomic.AddInt64(&wp.droppedTasks, 1)
		metrics.AggregatorDroppedTasks.Inc()
	}
}

// Stop closes the task queue and blocks until all workers exit. Safe to
// call only once; tasks submitted afterward panic (send on closed channel).
func (wp *WorkerPool) Stop() {
	close(wp.taskQueue)
	wp.wg.Wait()
}

// DroppedTasks returns the total number of tasks dropped due to a full queue.
func (wp *WorkerPool) DroppedTasks() int64 { return atomic.LoadInt64(&wp.droppedTasks) }

// QueueDepth returns the current number of tasks waiting in the queue.
func (wp *WorkerPool) QueueDepth() int { return len(wp.taskQueue) }

// QueueCapacity returns the queue's maximum capacity.
func (wp *WorkerPool) QueueCapacity() int { return cap(wp.taskQueue) }
