// Package tasks manages named, cancellable background tasks. Registering a
// task under a name that is already running returns the existing task, so
// concurrent identical requests are de-duplicated instead of multiplied.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"wall/internal/validator"
)

// Task is one running background task.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Name returns the task's registration name.
func (t *Task) Name() string { return t.name }

// Done is closed when the task function returns.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task function's result once Done is closed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancel requests cancellation of the task's context.
func (t *Task) Cancel() { t.cancel() }

// Manager is the bounded set of outstanding named tasks.
type Manager struct {
	logger *zap.Logger

	mu    sync.Mutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

// NewManager creates an empty task manager.
func NewManager(logger *zap.Logger) (*Manager, error) {
	m := Manager{
		logger: logger,
		tasks:  make(map[string]*Task),
	}

	if err := validator.Validate("tasks", m.logger); err != nil {
		return nil, fmt.Errorf("failed to validate task manager deps: %w", err)
	}

	return &m, nil
}

// Go starts fn under the given name, or returns the already-running task
// registered under that name. The task's context is derived from ctx and
// cancelled by Cancel or Shutdown; finished tasks are removed from the
// registry.
func (m *Manager) Go(ctx context.Context, name string, fn func(context.Context) error) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.tasks[name]; ok {
		return existing
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &Task{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.tasks[name] = t

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		err := fn(tctx)

		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)

		m.mu.Lock()
		delete(m.tasks, name)
		m.mu.Unlock()

		if err != nil && tctx.Err() == nil {
			m.logger.Warn("background task failed",
				zap.String("task", name),
				zap.Error(err),
			)
		}
	}()

	m.logger.Debug("background task started", zap.String("task", name))

	return t
}

// Cancel cancels the named task if it is running.
func (m *Manager) Cancel(name string) {
	m.mu.Lock()
	t, ok := m.tasks[name]
	m.mu.Unlock()

	if ok {
		t.Cancel()
	}
}

// Active returns the names of currently running tasks.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.tasks))
	for name := range m.tasks {
		names = append(names, name)
	}
	return names
}

// Shutdown cancels every running task and waits for all of them to return.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, t := range m.tasks {
		t.Cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
}
