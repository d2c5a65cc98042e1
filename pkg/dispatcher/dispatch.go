package dispatcher

import (
	"fmt"
	"time"

	"github.com/ccl/workqueue/pkg/events"
	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/metrics"
	"github.com/ccl/workqueue/pkg/types"
	"github.com/ccl/workqueue/pkg/wire"
)

// Assignment is everything a transport needs to actually deliver a task to
// a worker: any file-delivery commands that must precede it, and the task
// block itself.
type Assignment struct {
	WorkerID   string
	Deliveries []DeliveryCommand
	Task       wire.TaskBlock
	// Outputs carries the task's declared output FileSpecs (cache_name plus
	// the manager-local path each should land at), so a transport can issue
	// getfile requests and know where to write the bytes once the task's
	// result line arrives.
	Outputs []types.FileSpec
}

// DeliveryCommand is one manager->worker message that must be sent before
// the task block, to get every input cache_name onto the worker. For
// Kind=="file" LocalPath names where the transport reads the object's
// bytes from the manager's own filesystem; File.Size is left zero here
// since this package does no file I/O of its own.
type DeliveryCommand struct {
	Kind      string // "file", "puturl", "putcmd"
	LocalPath string
	File      *wire.FilePush
	URL       *wire.PutURL
	Cmd       *wire.PutCmd
}

// RegisterWorker adds a newly authenticated worker to the table in Ready
// state, per the event loop's connection-acceptance step.
func (m *Manager) RegisterWorker(workerID, name, address string, resources types.ResourceVector) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.arrivalSeq++
	w := newWorkerEntry(types.Worker{
		WorkerID:   workerID,
		Name:       name,
		Address:    address,
		Reported:   resources,
		State:      types.WorkerReady,
		LastSeen:   time.Now(),
		ArrivalSeq: m.arrivalSeq,
	})
	m.workers[workerID] = w
	m.stats.WorkersJoined++
	metrics.WorkersTotal.WithLabelValues("ready").Inc()
	m.broker.Publish(&events.Event{Type: events.EventWorkerJoined, Message: fmt.Sprintf("worker %s (%s) joined from %s", workerID, name, address)})
	log.Info(fmt.Sprintf("worker %s (%s) joined from %s", workerID, name, address))
}

// Touch updates a worker's last-seen time, for keepalive bookkeeping.
func (m *Manager) Touch(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[workerID]; ok {
		w.LastSeen = time.Now()
	}
}

// MarkCachePresent records that workerID has finished materializing
// cacheName, in response to a cache-update report, so a later
// ScheduleNext doesn't re-deliver it as an input.
func (m *Manager) MarkCachePresent(workerID, cacheName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[workerID]; ok {
		w.CacheContents[cacheName] = true
		m.broker.Publish(&events.Event{Type: events.EventCacheMaterialized, Message: fmt.Sprintf("%s materialized on %s", cacheName, workerID)})
	}
}

// MarkCacheAbsent records that a previously queued object failed to
// materialize on workerID, in response to a cache-invalid report, so
// the next task needing it triggers a fresh delivery.
func (m *Manager) MarkCacheAbsent(workerID, cacheName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[workerID]; ok {
		delete(w.CacheContents, cacheName)
		m.broker.Publish(&events.Event{Type: events.EventCacheInvalid, Message: fmt.Sprintf("%s invalidated on %s", cacheName, workerID)})
	}
}

// ScheduleNext pops the first ready task, in ready-queue order, that has an
// eligible worker and returns the Assignment to deliver; it returns false
// if no ready task currently has an eligible worker. Tasks carry no
// priority, so the ready queue is not reordered by priority.
func (m *Manager) ScheduleNext() (Assignment, bool) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DispatchLatency)

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, t := range m.ready {
		cat := m.categoryFor(t.Category)
		requested := requestedResources(t, cat)
		candidates := candidateWorkers(m.workers, requested)
		if len(candidates) == 0 {
			continue
		}
		inputNames := inputCacheNames(t)
		w := selectWorker(candidates, t.Algorithm, inputNames)
		if w == nil {
			continue
		}

		m.ready = append(m.ready[:i:i], m.ready[i+1:]...)
		w.commitLocked(t, requested)
		t.State = types.TaskDispatched
		t.StartTime = time.Now()
		t.Requested = vectorFromMap(requested)
		m.stats.TasksWaiting--
		m.stats.TasksRunning++
		metrics.TasksReady.Set(float64(len(m.ready)))
		metrics.TaskWaitDuration.Observe(time.Since(t.SubmitTime).Seconds())
		m.broker.Publish(&events.Event{Type: events.EventTaskDispatched, Message: fmt.Sprintf("task %d dispatched to %s", t.ID, w.WorkerID)})

		assignment := buildAssignment(t, w)
		return assignment, true
	}
	return Assignment{}, false
}

func inputCacheNames(t *types.Task) []string {
	names := make([]string, 0, len(t.Inputs))
	for _, f := range t.Inputs {
		names = append(names, f.CacheName)
	}
	return names
}

func vectorFromMap(m map[types.Resource]float64) types.ResourceVector {
	cores := m[types.ResourceCores]
	mem := int64(m[types.ResourceMemoryMB])
	disk := int64(m[types.ResourceDiskMB])
	gpus := int64(m[types.ResourceGPUs])
	wall := time.Duration(m[types.ResourceWallTime]) * time.Second
	return types.ResourceVector{Cores: &cores, MemoryMB: &mem, DiskMB: &disk, GPUs: &gpus, WallTime: &wall}
}

func buildAssignment(t *types.Task, w *workerEntry) Assignment {
	a := Assignment{WorkerID: w.WorkerID}

	for _, f := range t.Inputs {
		if w.CacheContents[f.CacheName] {
			continue
		}
		a.Deliveries = append(a.Deliveries, DeliveryCommand{
			Kind:      "file",
			LocalPath: f.LocalPath,
			File:      &wire.FilePush{CacheName: f.CacheName, Mode: int64(f.Mode)},
		})
		// Mark present as soon as the delivery is queued, not only once the
		// worker reports cache-update: ScheduleNext runs under m.mu and can
		// dispatch several ready tasks sharing this cache_name to the same
		// worker in one dispatchLoop tick, before any reply comes back.
		// Without this, each would see CacheContents still false and queue
		// a redundant push.
		w.CacheContents[f.CacheName] = true
	}

	block := wire.TaskBlock{
		TaskID:   t.ID,
		Cmd:      t.CommandLine,
		Env:      t.Environment,
		Category: t.Category,
		Cores:    derefF(t.Requested.Cores),
		MemoryMB: derefI(t.Requested.MemoryMB),
		DiskMB:   derefI(t.Requested.DiskMB),
		GPUs:     derefI(t.Requested.GPUs),
	}
	if t.Requested.WallTime != nil {
		block.WallTime = int64(t.Requested.WallTime.Seconds())
	}
	for _, f := range t.Inputs {
		block.Inputs = append(block.Inputs, f.CacheName)
	}
	for _, f := range t.Outputs {
		block.Outputs = append(block.Outputs, f.CacheName)
	}
	a.Task = block
	a.Outputs = t.Outputs
	return a
}
