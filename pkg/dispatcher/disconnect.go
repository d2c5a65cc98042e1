package dispatcher

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ccl/workqueue/pkg/events"
	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/metrics"
	"github.com/ccl/workqueue/pkg/types"
)

// Disconnect transitions a worker to Gone, frees its committed resources,
// and returns every in-flight task on it to Ready (or Failed, once a
// task's retry limit is exhausted).
func (m *Manager) Disconnect(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return
	}
	w.State = types.WorkerGone
	metrics.WorkersTotal.WithLabelValues("gone").Inc()

	for taskID := range w.TaskIDs {
		t, ok := m.tasksByID[taskID]
		if !ok {
			continue
		}
		t.FailureCount++
		t.AssignedWorker = ""
		if t.FailureCount > m.cfg.RetryLimit {
			t.State = types.TaskFailed
			t.Result = types.ResultWorkerDisconnect
			t.FinishTime = time.Now()
			m.stats.TasksRunning--
			m.stats.TasksFailed++
			metrics.TasksTotal.WithLabelValues("failed").Inc()
			continue
		}
		t.State = types.TaskReady
		m.ready = append(m.ready, t)
		m.stats.TasksRunning--
		m.stats.TasksWaiting++
	}

	delete(m.workers, workerID)
	m.stats.WorkersGone++
	m.cond.Broadcast()
	m.broker.Publish(&events.Event{Type: events.EventWorkerGone, Message: fmt.Sprintf("worker %s disconnected", workerID)})
	log.Warn(fmt.Sprintf("worker %s disconnected, tasks reassigned", workerID))
}

// CheckKeepalives scans every worker for an idle timeout and disconnects
// any that have gone silent past cfg.KeepaliveExpiry. Returns the workers
// that were disconnected, for a transport to tear down their links.
func (m *Manager) CheckKeepalives(now time.Time) []string {
	if m.cfg.KeepaliveExpiry <= 0 {
		return nil
	}
	m.mu.Lock()
	var stale []string
	for id, w := range m.workers {
		if w.idleFor(now) > m.cfg.KeepaliveExpiry {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	// Disconnect acquires m.mu per call, so fanning these out concurrently
	// is safe and keeps one slow teardown from delaying the rest.
	var g errgroup.Group
	for _, id := range stale {
		id := id
		g.Go(func() error {
			m.Disconnect(id)
			return nil
		})
	}
	_ = g.Wait()
	return stale
}
