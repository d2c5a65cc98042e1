package dispatcher

import (
	"time"

	"github.com/ccl/workqueue/pkg/types"
)

// workerEntry is the manager's bookkeeping record for one connected worker:
// the public types.Worker plus resource-accounting helpers used by the
// scheduler and the disconnect handler.
type workerEntry struct {
	types.Worker
}

func newWorkerEntry(w types.Worker) *workerEntry {
	if w.CacheContents == nil {
		w.CacheContents = make(map[string]bool)
	}
	if w.TaskIDs == nil {
		w.TaskIDs = make(map[int64]bool)
	}
	return &workerEntry{Worker: w}
}

// freeResource returns how much of resource r is uncommitted.
func (w *workerEntry) freeResource(r types.Resource) float64 {
	return resourceValue(r, w.Reported) - resourceValue(r, w.Committed)
}

// canFit reports whether requested fits within the worker's free capacity
// across every resource dimension present in requested.
func (w *workerEntry) canFit(requested map[types.Resource]float64) bool {
	for r, v := range requested {
		if v > w.freeResource(r) {
			return false
		}
	}
	return true
}

// commitLocked adds a task's resource requirement to committed and records
// the assignment. Caller holds the manager's mutex.
func (w *workerEntry) commitLocked(t *types.Task, requested map[types.Resource]float64) {
	w.Committed = addResources(w.Committed, requested)
	w.TaskIDs[t.ID] = true
	t.AssignedWorker = w.WorkerID
}

// releaseLocked removes a task's resource commitment, used on completion,
// cancellation, or disconnect. Caller holds the manager's mutex.
func (w *workerEntry) releaseLocked(t *types.Task) {
	delete(w.TaskIDs, t.ID)
	requested := resourceMapFromVector(t.Requested)
	w.Committed = subResources(w.Committed, requested)
}

func resourceValue(r types.Resource, v types.ResourceVector) float64 {
	switch r {
	case types.ResourceCores:
		return derefF(v.Cores)
	case types.ResourceMemoryMB:
		return float64(derefI(v.MemoryMB))
	case types.ResourceDiskMB:
		return float64(derefI(v.DiskMB))
	case types.ResourceGPUs:
		return float64(derefI(v.GPUs))
	case types.ResourceWallTime:
		if v.WallTime != nil {
			return v.WallTime.Seconds()
		}
		return 0
	}
	return 0
}

func derefF(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefI(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func resourceMapFromVector(v types.ResourceVector) map[types.Resource]float64 {
	m := make(map[types.Resource]float64, len(types.AllResources))
	for _, r := range types.AllResources {
		m[r] = resourceValue(r, v)
	}
	return m
}

func addResources(v types.ResourceVector, delta map[types.Resource]float64) types.ResourceVector {
	return applyDelta(v, delta, 1)
}

func subResources(v types.ResourceVector, delta map[types.Resource]float64) types.ResourceVector {
	return applyDelta(v, delta, -1)
}

func applyDelta(v types.ResourceVector, delta map[types.Resource]float64, sign float64) types.ResourceVector {
	cores := derefF(v.Cores) + sign*delta[types.ResourceCores]
	mem := derefI(v.MemoryMB) + int64(sign*delta[types.ResourceMemoryMB])
	disk := derefI(v.DiskMB) + int64(sign*delta[types.ResourceDiskMB])
	gpus := derefI(v.GPUs) + int64(sign*delta[types.ResourceGPUs])
	if cores < 0 {
		cores = 0
	}
	if mem < 0 {
		mem = 0
	}
	if disk < 0 {
		disk = 0
	}
	if gpus < 0 {
		gpus = 0
	}
	return types.ResourceVector{Cores: &cores, MemoryMB: &mem, DiskMB: &disk, GPUs: &gpus}
}

// idleFor reports how long it has been since the worker was last heard
// from, for keepalive timeout checks.
func (w *workerEntry) idleFor(now time.Time) time.Duration {
	return now.Sub(w.LastSeen)
}
