// Package queue is the embedding API surface (spec.md §6.4): the thin,
// direct-call boundary an embedding application links against to submit
// tasks and read back results, without touching the wire protocol or the
// dispatcher's internals.
package queue

import (
	"fmt"
	"time"

	"github.com/ccl/workqueue/pkg/dispatcher"
	"github.com/ccl/workqueue/pkg/types"
)

// Config configures a Manager.
type Config = dispatcher.Config

// Manager is manager_create's return value: a running dispatcher the
// embedder drives directly through Submit/Wait/Cancel/Stats.
type Manager struct {
	d *dispatcher.Manager
}

// NewManager is manager_create(port). Listening on port is the caller's
// responsibility (pkg/mgrd, given Dispatcher() and a net.Listener, serves
// the wire protocol); this constructor only builds the dispatcher state.
func NewManager(cfg Config) *Manager {
	return &Manager{d: dispatcher.New(cfg)}
}

// Submit is manager_submit(Manager, Task). It returns the assigned task
// ID or a ConfigError-class error if the task is malformed.
func (m *Manager) Submit(t *Task) (int64, error) {
	if t == nil {
		return 0, fmt.Errorf("queue: nil task")
	}
	return m.d.Submit(&t.task)
}

// Wait is manager_wait(Manager, timeout). It blocks until a task reaches
// a terminal state or timeout elapses, returning nil on timeout.
func (m *Manager) Wait(timeout time.Duration) *Task {
	t := m.d.Wait(timeout)
	if t == nil {
		return nil
	}
	return &Task{task: *t}
}

// Cancel is manager_cancel(Manager, task_id).
func (m *Manager) Cancel(taskID int64) error {
	return m.d.Cancel(taskID)
}

// Stats is manager_stats(Manager).
func (m *Manager) Stats() types.Stats {
	return m.d.Stats()
}

// Dispatcher exposes the underlying dispatcher.Manager for components
// that must drive the wire protocol (worker registration, result
// reporting) rather than the embedding API proper.
func (m *Manager) Dispatcher() *dispatcher.Manager {
	return m.d
}

// Close releases the manager's background resources.
func (m *Manager) Close() {
	m.d.Close()
}
