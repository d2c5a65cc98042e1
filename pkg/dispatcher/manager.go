// Package dispatcher implements the manager side of the work queue: the
// ready queue, worker table, scheduler, and task lifecycle that together
// make up the Manager Dispatcher (C5).
package dispatcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/ccl/workqueue/pkg/category"
	"github.com/ccl/workqueue/pkg/events"
	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/metrics"
	"github.com/ccl/workqueue/pkg/storage"
	"github.com/ccl/workqueue/pkg/types"
)

// Config configures a Manager.
type Config struct {
	ProjectName     string
	DefaultMode     types.CategoryMode
	DefaultAlgo     types.ScheduleAlgorithm
	RetryLimit      int
	KeepaliveEvery  time.Duration
	KeepaliveExpiry time.Duration
	Store           storage.Store // optional, nil disables warm-start persistence
}

// Manager holds the dispatcher's state: the ready queue, the worker table,
// the per-category resource engines, and bookkeeping for in-flight tasks.
// All mutable state is protected by mu; Submit, Wait, Cancel, and Stats are
// the embedding API surface external callers use directly, while the rest
// of the package drives the event loop (scheduling, dispatch, results,
// disconnects) on the manager's behalf.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	cond       *sync.Cond
	nextTaskID int64
	ready      []*types.Task
	tasksByID  map[int64]*types.Task
	workers    map[string]*workerEntry
	categories map[string]*category.Category
	arrivalSeq int64

	stats types.Stats

	broker *events.Broker
	store  storage.Store
}

// New creates a Manager with empty state.
func New(cfg Config) *Manager {
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = types.ModeMax
	}
	if cfg.DefaultAlgo == "" {
		cfg.DefaultAlgo = types.AlgorithmFiles
	}
	m := &Manager{
		cfg:        cfg,
		tasksByID:  make(map[int64]*types.Task),
		workers:    make(map[string]*workerEntry),
		categories: make(map[string]*category.Category),
		broker:     events.NewBroker(),
		store:      cfg.Store,
	}
	m.cond = sync.NewCond(&m.mu)
	m.broker.Start()
	if m.store != nil {
		m.warmStart()
	}
	return m
}

func (m *Manager) warmStart() {
	snaps, err := m.store.ListCategorySnapshots()
	if err != nil {
		log.Warn(fmt.Sprintf("warm start: list category snapshots: %v", err))
		return
	}
	for _, s := range snaps {
		log.Info(fmt.Sprintf("warm start: found category snapshot for %q (%d bytes)", s.Name, len(s.Data)))
	}
}

// categoryFor returns (creating if necessary) the engine for name.
func (m *Manager) categoryFor(name string) *category.Category {
	if name == "" {
		name = "default"
	}
	c, ok := m.categories[name]
	if !ok {
		c = category.New(name, m.cfg.DefaultMode, types.ResourceVector{})
		m.categories[name] = c
	}
	return c
}

// Submit enqueues a new task and returns its assigned ID.
func (m *Manager) Submit(t *types.Task) (int64, error) {
	if t.CommandLine == "" {
		return 0, fmt.Errorf("dispatcher: %w: task has no command line", ErrConfigError)
	}
	for i := range t.Inputs {
		if t.Inputs[i].Direction == "" {
			t.Inputs[i].Direction = types.DirectionInput
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTaskID++
	t.ID = m.nextTaskID
	t.State = types.TaskReady
	t.Result = types.ResultUnset
	t.SubmitTime = time.Now()
	t.OriginalRequested = t.Requested
	if t.Algorithm == "" {
		t.Algorithm = m.cfg.DefaultAlgo
	}

	m.tasksByID[t.ID] = t
	m.ready = append(m.ready, t)
	m.stats.TasksSubmitted++
	m.stats.TasksWaiting++
	metrics.TasksReady.Set(float64(len(m.ready)))
	metrics.TasksTotal.WithLabelValues("submitted").Inc()

	m.broker.Publish(&events.Event{Type: events.EventTaskReady, Message: fmt.Sprintf("task %d ready", t.ID)})
	m.cond.Broadcast()
	return t.ID, nil
}

// Wait blocks until a task reaches Done or Failed, or timeout elapses,
// returning the first such task found. A zero timeout means poll-and-return
// immediately.
func (m *Manager) Wait(timeout time.Duration) *types.Task {
	deadline := time.Now().Add(timeout)
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		for _, t := range m.tasksByID {
			if t.State == types.TaskDone || t.State == types.TaskFailed {
				delete(m.tasksByID, t.ID)
				return t
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		m.waitCondWithTimeout(remaining)
	}
}

// waitCondWithTimeout waits on m.cond, bounded by d, re-acquiring mu before
// returning (sync.Cond has no native timeout, so this spins a timer
// goroutine that wakes the condition once).
func (m *Manager) waitCondWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer timer.Stop()
	m.cond.Wait()
}

// Cancel marks a task Failed if it has not already finished.
func (m *Manager) Cancel(taskID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasksByID[taskID]
	if !ok {
		return fmt.Errorf("dispatcher: %w: no such task %d", ErrConfigError, taskID)
	}
	if t.State == types.TaskDone || t.State == types.TaskFailed {
		return nil
	}
	if t.State == types.TaskReady {
		m.removeFromReadyLocked(taskID)
	}
	if t.AssignedWorker != "" {
		if w, ok := m.workers[t.AssignedWorker]; ok {
			w.releaseLocked(t)
		}
	}
	t.State = types.TaskFailed
	t.Result = types.ResultWorkerDisconnect
	t.FinishTime = time.Now()
	m.stats.TasksFailed++
	m.cond.Broadcast()
	return nil
}

func (m *Manager) removeFromReadyLocked(taskID int64) {
	for i, t := range m.ready {
		if t.ID == taskID {
			m.ready = append(m.ready[:i], m.ready[i+1:]...)
			return
		}
	}
}

// Stats returns a snapshot of manager-wide counters.
func (m *Manager) Stats() types.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.TasksWaiting = int64(len(m.ready))
	s.WorkersActive = len(m.workers)
	return s
}

// Close stops background resources owned by the manager (event broker).
func (m *Manager) Close() {
	m.broker.Stop()
}
