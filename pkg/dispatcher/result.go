package dispatcher

import (
	"fmt"
	"time"

	"github.com/ccl/workqueue/pkg/category"
	"github.com/ccl/workqueue/pkg/events"
	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/metrics"
	"github.com/ccl/workqueue/pkg/types"
)

// ResultReport is what a transport hands the manager once a worker's
// result line (and its output bytes) have been read.
type ResultReport struct {
	WorkerID     string
	TaskID       int64
	ReturnStatus int
	Output       string
	Overflowed   bool // true when the worker reports a resource overflow
	Overflow     map[types.Resource]float64
	// OutputsOK reports whether every declared output FileSpec was
	// successfully retrieved via getfile. It is true when the task declared
	// no outputs. A transport must set it after attempting retrieval and
	// before folding the report in, since it — not ReturnStatus — decides
	// Success vs OutputMissing.
	OutputsOK bool
}

// HandleResult folds a finished task's outcome into task state, category
// statistics, and worker resource accounting. It returns the task's new
// state so a transport can decide whether to requeue it for retry.
func (m *Manager) HandleResult(r ResultReport) (*types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasksByID[r.TaskID]
	if !ok {
		return nil, fmt.Errorf("dispatcher: %w: no such task %d", ErrConfigError, r.TaskID)
	}
	w, ok := m.workers[r.WorkerID]
	if ok {
		w.releaseLocked(t)
	}

	wallTime := time.Since(t.StartTime)
	t.ReturnStatus = r.ReturnStatus
	t.Output = r.Output
	t.FinishTime = time.Now()

	cat := m.categoryFor(t.Category)

	if r.Overflowed {
		return m.handleOverflowLocked(t, w, cat, wallTime, r.Overflow), nil
	}

	// return_status is the task's own shell exit code, passed through to the
	// submitter as-is; it does not by itself fail the task here. A task that
	// ran to completion and whose declared outputs all came back via getfile
	// is Done/Success regardless of what its command exited with. Only a
	// failure to retrieve a declared output makes this Failed/OutputMissing.
	t.State = types.TaskDone
	t.Result = types.ResultSuccess
	if !r.OutputsOK {
		t.Result = types.ResultOutputMissing
		t.State = types.TaskFailed
	}

	usage := resourceMapFromVector(t.Requested)
	usage[types.ResourceWallTime] = wallTime.Seconds()
	cat.Observe(usage, wallTime)

	if m.store != nil {
		m.persistCompletionLocked(t, wallTime)
	}

	m.stats.TasksRunning--
	if t.Result == types.ResultSuccess {
		m.stats.TasksDone++
		metrics.TasksTotal.WithLabelValues("success").Inc()
		m.broker.Publish(&events.Event{Type: events.EventTaskDone, Message: fmt.Sprintf("task %d done", t.ID)})
	} else {
		m.stats.TasksFailed++
		metrics.TasksTotal.WithLabelValues("failed").Inc()
		m.broker.Publish(&events.Event{Type: events.EventTaskFailed, Message: fmt.Sprintf("task %d failed: %s", t.ID, t.Result)})
	}
	m.cond.Broadcast()
	return t, nil
}

func (m *Manager) handleOverflowLocked(t *types.Task, w *workerEntry, cat *category.Category, wallTime time.Duration, measured map[types.Resource]float64) *types.Task {
	// The peak usage that caused the overflow is still a real sample: fold
	// it into the histogram now so the next allocation (Max, MinWaste, ...)
	// accounts for it even though this attempt failed.
	if len(measured) > 0 {
		cat.Observe(measured, wallTime)
	}

	currentLabel := currentLabelFor(t)
	userSupplied := t.OriginalRequested.MemoryMB != nil || t.OriginalRequested.Cores != nil
	measuredAny := false
	for r := range measured {
		if cat.Measured(r) {
			measuredAny = true
			break
		}
	}
	nextLabel := category.NextLabel(cat.Mode, currentLabel, true, userSupplied, measuredAny)
	metrics.CategoryOverflows.WithLabelValues(t.Category, string(nextLabel)).Inc()

	if nextLabel == types.LabelError {
		t.State = types.TaskFailed
		t.Result = types.ResultResourceExhaustion
		m.stats.TasksRunning--
		m.stats.TasksFailed++
		metrics.TasksTotal.WithLabelValues("failed").Inc()
		m.broker.Publish(&events.Event{Type: events.EventTaskFailed, Message: fmt.Sprintf("task %d failed: %s", t.ID, t.Result)})
		m.cond.Broadcast()
		log.Warn("task failed after resource overflow retries exhausted")
		return t
	}

	t.FailureCount++
	t.State = types.TaskReady
	t.AssignedWorker = ""
	m.ready = append(m.ready, t)
	m.stats.TasksRunning--
	m.stats.TasksWaiting++
	return t
}

func currentLabelFor(t *types.Task) types.AllocationLabel {
	if t.FailureCount == 0 {
		return types.LabelFirst
	}
	return types.LabelMax
}

func (m *Manager) persistCompletionLocked(t *types.Task, wallTime time.Duration) {
	rec := toCompletionRecord(t, wallTime)
	if err := m.store.AppendCompletion(rec); err != nil {
		log.Warn("failed to persist task completion")
	}
}
