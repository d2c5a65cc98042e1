package dispatcher

import (
	"math/rand"

	"github.com/ccl/workqueue/pkg/category"
	"github.com/ccl/workqueue/pkg/types"
)

// requestedResources resolves a task's effective resource request: explicit
// values the submitter passed to Submit win; anything left unset falls back
// to the category engine's allocation for the task's current retry label.
// This reads t.OriginalRequested rather than t.Requested: Requested is
// ScheduleNext's own output from the previous attempt (always fully
// populated once a task has been dispatched once), so consulting it here
// would make every retry request the exact allocation that just
// overflowed instead of the escalated one.
func requestedResources(t *types.Task, cat *category.Category) map[types.Resource]float64 {
	req := t.OriginalRequested
	label := currentLabelFor(t)
	out := make(map[types.Resource]float64, len(types.AllResources))
	for _, r := range types.AllResources {
		if v := resourceValue(r, req); v > 0 {
			out[r] = v
			continue
		}
		v, err := cat.AllocateForLabel(r, label)
		if err != nil {
			v = cat.Allocate(r)
		}
		out[r] = v
	}
	return out
}

// candidateWorkers returns every worker eligible to run t: Ready state and
// enough free capacity for its requested resources.
func candidateWorkers(workers map[string]*workerEntry, requested map[types.Resource]float64) []*workerEntry {
	var out []*workerEntry
	for _, w := range workers {
		if w.State != types.WorkerReady {
			continue
		}
		if w.canFit(requested) {
			out = append(out, w)
		}
	}
	return out
}

// selectWorker scores candidates according to algo and returns the winner,
// or nil if candidates is empty.
func selectWorker(candidates []*workerEntry, algo types.ScheduleAlgorithm, inputNames []string) *workerEntry {
	if len(candidates) == 0 {
		return nil
	}
	switch algo {
	case types.AlgorithmFCFS:
		return lowestArrivalSeq(candidates)
	case types.AlgorithmTime:
		return lowestMeanTaskTime(candidates)
	case types.AlgorithmRandom:
		return candidates[rand.Intn(len(candidates))]
	case types.AlgorithmFiles:
		fallthrough
	default:
		return mostFilesPresent(candidates, inputNames)
	}
}

func lowestArrivalSeq(candidates []*workerEntry) *workerEntry {
	best := candidates[0]
	for _, w := range candidates[1:] {
		if w.ArrivalSeq < best.ArrivalSeq {
			best = w
		}
	}
	return best
}

func lowestMeanTaskTime(candidates []*workerEntry) *workerEntry {
	best := candidates[0]
	for _, w := range candidates[1:] {
		if w.MeanTaskTime < best.MeanTaskTime {
			best = w
		}
	}
	return best
}

func mostFilesPresent(candidates []*workerEntry, inputNames []string) *workerEntry {
	best := candidates[0]
	bestCount := countPresent(best, inputNames)
	for _, w := range candidates[1:] {
		c := countPresent(w, inputNames)
		if c > bestCount {
			best = w
			bestCount = c
		}
	}
	return best
}

func countPresent(w *workerEntry, inputNames []string) int {
	n := 0
	for _, name := range inputNames {
		if w.CacheContents[name] {
			n++
		}
	}
	return n
}
