// Package category implements the per-category resource allocation engine
// (C4): it accumulates observed peak resource usage from completed tasks
// and recommends an allocation for the next task in that category,
// following one of six policies.
package category

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ccl/workqueue/pkg/metrics"
	"github.com/ccl/workqueue/pkg/types"
)

// steadyStateMinCompletions is the completions-since-reset threshold named
// in the steady-state check.
const steadyStateMinCompletions = 25

// steadyStateMinAge is how long the observed maximum must have gone
// unchanged before the engine trusts it without retry inflation.
const steadyStateMinAge = 2 * time.Minute

// Category tracks resource usage for every task submitted under one
// category name and decides allocations for new tasks.
type Category struct {
	Name         string
	Mode         types.CategoryMode
	UserSupplied types.ResourceVector

	mu                    sync.Mutex
	hist                  map[types.Resource]*histogram
	buckets               map[types.Resource][]float64
	completionsSinceReset int
	maxValue              map[types.Resource]float64
	maxUpdatedAt          map[types.Resource]time.Time
	steadyState           bool
}

// New creates a category engine in the given mode, seeded with whatever
// fixed/max values the user supplied at category-definition time.
func New(name string, mode types.CategoryMode, userSupplied types.ResourceVector) *Category {
	c := &Category{
		Name:         name,
		Mode:         mode,
		UserSupplied: userSupplied,
		hist:         make(map[types.Resource]*histogram),
		buckets:      make(map[types.Resource][]float64),
		maxValue:     make(map[types.Resource]float64),
		maxUpdatedAt: make(map[types.Resource]time.Time),
	}
	for _, r := range types.AllResources {
		c.hist[r] = &histogram{}
	}
	return c
}

// Observe records one completed task's peak resource usage. wallTime is the
// task's measured wall-clock duration, used by the MinWaste/MaxThroughput
// waste formulas for every resource dimension.
func (c *Category) Observe(usage map[types.Resource]float64, wallTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wt := wallTime.Seconds()
	for _, r := range types.AllResources {
		v, ok := usage[r]
		if !ok {
			continue
		}
		c.hist[r].add(v, wt)
		metrics.CategoryHistogramObservations.WithLabelValues(c.Name, string(r)).Inc()

		if v > c.maxValue[r] {
			c.maxValue[r] = v
			c.maxUpdatedAt[r] = time.Now()
		}
		if c.Mode == types.ModeGreedyBucketing {
			c.extendBucketsLocked(r, v)
		}
	}

	c.completionsSinceReset++
	c.recomputeSteadyStateLocked()
	if c.Mode == types.ModeExhaustiveBucketing {
		for _, r := range types.AllResources {
			c.recomputeExhaustiveBucketsLocked(r)
		}
	}
}

func (c *Category) recomputeSteadyStateLocked() {
	steady := c.completionsSinceReset >= steadyStateMinCompletions
	if steady {
		for _, r := range types.AllResources {
			t, ok := c.maxUpdatedAt[r]
			if !ok {
				continue
			}
			if time.Since(t) < steadyStateMinAge {
				steady = false
				break
			}
		}
	}
	c.steadyState = steady
	if steady {
		metrics.CategorySteadyState.WithLabelValues(c.Name).Set(1)
	} else {
		metrics.CategorySteadyState.WithLabelValues(c.Name).Set(0)
	}
}

// SteadyState reports whether the engine currently trusts its observed
// maximum without retry inflation.
func (c *Category) SteadyState() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steadyState
}

// Measured reports whether resource r has at least one recorded sample,
// the "measured" input to the two-step retry contract: an overflow can
// only fall back to an observed maximum if one actually exists.
func (c *Category) Measured(r types.Resource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist[r].count() > 0
}

// Allocate returns the recommended allocation for resource r on the "first"
// attempt, per the category's mode.
func (c *Category) Allocate(r types.Resource) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocateLocked(r, types.LabelFirst)
}

// AllocateForLabel returns the allocation associated with a specific retry
// label (LabelFirst or LabelMax); LabelError has no allocation.
func (c *Category) AllocateForLabel(r types.Resource, label types.AllocationLabel) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if label == types.LabelError {
		return 0, fmt.Errorf("category: %s has no allocation", types.LabelError)
	}
	return c.allocateLocked(r, label), nil
}

func (c *Category) allocateLocked(r types.Resource, label types.AllocationLabel) float64 {
	userMax := c.userValue(r)
	h := c.hist[r]

	switch c.Mode {
	case types.ModeFixed:
		return userMax

	case types.ModeMax:
		if label == types.LabelMax {
			if userMax > 0 {
				return userMax
			}
			return h.max()
		}
		if h.count() == 0 {
			return userMax
		}
		return h.max()

	case types.ModeMinWaste:
		if label == types.LabelMax {
			return maxOf(h.max(), userMax)
		}
		return c.minWasteLocked(r)

	case types.ModeMaxThroughput:
		if label == types.LabelMax {
			return maxOf(h.max(), userMax)
		}
		return c.maxThroughputLocked(r)

	case types.ModeGreedyBucketing, types.ModeExhaustiveBucketing:
		if label == types.LabelMax {
			return c.largestBucketLocked(r, userMax)
		}
		return c.firstBucketLocked(r)

	default:
		return userMax
	}
}

func (c *Category) userValue(r types.Resource) float64 {
	switch r {
	case types.ResourceCores:
		if c.UserSupplied.Cores != nil {
			return *c.UserSupplied.Cores
		}
	case types.ResourceMemoryMB:
		if c.UserSupplied.MemoryMB != nil {
			return float64(*c.UserSupplied.MemoryMB)
		}
	case types.ResourceDiskMB:
		if c.UserSupplied.DiskMB != nil {
			return float64(*c.UserSupplied.DiskMB)
		}
	case types.ResourceGPUs:
		if c.UserSupplied.GPUs != nil {
			return float64(*c.UserSupplied.GPUs)
		}
	case types.ResourceWallTime:
		if c.UserSupplied.WallTime != nil {
			return c.UserSupplied.WallTime.Seconds()
		}
	}
	return 0
}

func maxOf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// minWasteLocked chooses the candidate allocation a minimizing
// E_waste(a) = a*mean(wall_time) + a_max*sum(wall_time_x for x>a).
func (c *Category) minWasteLocked(r types.Resource) float64 {
	h := c.hist[r]
	candidates := h.candidates()
	if len(candidates) == 0 {
		return c.userValue(r)
	}
	aMax := h.max()
	meanWall := h.meanWallTime()

	best := candidates[0]
	bestWaste := math.Inf(1)
	for _, a := range candidates {
		_, wallAbove := h.aboveStats(a)
		waste := a*meanWall + aMax*wallAbove
		if waste < bestWaste {
			bestWaste = waste
			best = a
		}
	}
	return best
}

// maxThroughputLocked chooses the candidate allocation maximizing
// T(a) = (P(x>a)*a_max/a + P(x<=a)) / (mean(wall_time) + wall_tail(a)).
func (c *Category) maxThroughputLocked(r types.Resource) float64 {
	h := c.hist[r]
	candidates := h.candidates()
	if len(candidates) == 0 {
		return c.userValue(r)
	}
	aMax := h.max()
	meanWall := h.meanWallTime()

	best := candidates[0]
	bestT := math.Inf(-1)
	for _, a := range candidates {
		if a == 0 {
			continue
		}
		pAbove, wallAbove := h.aboveStats(a)
		pBelow := 1 - pAbove
		denom := meanWall + wallAbove
		if denom <= 0 {
			continue
		}
		t := (pAbove*aMax/a + pBelow) / denom
		if t > bestT {
			bestT = t
			best = a
		}
	}
	return best
}

func (c *Category) extendBucketsLocked(r types.Resource, observed float64) {
	buckets := c.buckets[r]
	for _, b := range buckets {
		if b >= observed {
			return
		}
	}
	c.buckets[r] = append(buckets, observed)
}

func (c *Category) recomputeExhaustiveBucketsLocked(r types.Resource) {
	c.buckets[r] = c.hist[r].candidates()
}

func (c *Category) firstBucketLocked(r types.Resource) float64 {
	buckets := c.buckets[r]
	if len(buckets) == 0 {
		return c.userValue(r)
	}
	return buckets[0]
}

// largestBucketLocked is the LabelMax allocation for the bucketing modes:
// the biggest bucket observed so far (buckets grow via extendBucketsLocked
// as overflows are folded in, so this is the "next larger bucket" an
// escalated retry should land on), or userMax if none exist yet.
func (c *Category) largestBucketLocked(r types.Resource, userMax float64) float64 {
	buckets := c.buckets[r]
	if len(buckets) == 0 {
		return userMax
	}
	return maxOf(buckets[len(buckets)-1], userMax)
}

// NextBucket finds the smallest bucket strictly greater than current,
// for the on-overflow "next larger bucket" retry rule.
func (c *Category) NextBucket(r types.Resource, current float64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.buckets[r] {
		if b > current {
			return b, true
		}
	}
	return 0, false
}

// NextLabel implements the two-step retry contract: given the label used
// for the attempt that just finished, whether it overflowed, and whether
// the engine has a user-supplied value and a measured maximum for r, it
// returns the label to use for the next attempt.
func NextLabel(mode types.CategoryMode, currentLabel types.AllocationLabel, overflowHappened, userSupplied, measured bool) types.AllocationLabel {
	if !overflowHappened {
		return currentLabel
	}
	switch mode {
	case types.ModeFixed:
		return types.LabelError
	case types.ModeMax:
		if currentLabel == types.LabelFirst && (userSupplied || measured) {
			return types.LabelMax
		}
		return types.LabelError
	default:
		if currentLabel == types.LabelFirst && measured {
			return types.LabelMax
		}
		return types.LabelError
	}
}
