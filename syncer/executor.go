package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrQueueFull       = errors.New("sync queue is full")
	ErrExecutorStopped = errors.New("sync executor is stopped")
)

// Task is one unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskError reports a failed task on the executor's error channel.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string { return fmt.Sprintf("task %s: %v", e.Task, e.Err) }

func (e *TaskError) Unwrap() error { return e.Err }

// Executor runs submitted tasks one at a time on a single worker goroutine.
type Executor struct {
	ctx    context.Context
	tasks  chan Task
	errs   chan error
	logger *zap.Logger

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

func NewExecutor(ctx context.Context, queueSize int, logger *zap.Logger) *Executor {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		ctx:    ctx,
		tasks:  make(chan Task, queueSize),
		errs:   make(chan error, 16),
		logger: logger,
		done:   make(chan struct{}),
	}
	go e.loop()
	return e
}

// Submit queues t without blocking.
func (e *Executor) Submit(t Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrExecutorStopped
	}
	select {
	case e.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Errors delivers task failures. It is closed after Stop returns.
func (e *Executor) Errors() <-chan error { return e.errs }

// Stop refuses new tasks, lets queued ones finish and waits for the worker.
func (e *Executor) Stop() {
	e.mu.Lock()
	if !e.stopped {
		e.stopped = true
		close(e.tasks)
	}
	e.mu.Unlock()
	<-e.done
}

func (e *Executor) loop() {
	defer close(e.done)
	defer close(e.errs)
	for t := range e.tasks {
		if err := e.run(t); err != nil {
			e.report(&TaskError{Task: t.Name, Err: err})
		}
	}
}

func (e *Executor) run(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Run(e.ctx)
}

func (e *Executor) report(err error) {
	select {
	case e.errs <- err:
	default:
		e.logger.Error("sync error channel full, dropping error", zap.Error(err))
	}
}
