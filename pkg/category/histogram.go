package category

import "sort"

// sample is one task's observed peak value for a resource, paired with the
// task's wall-clock duration: the MinWaste and MaxThroughput allocation
// formulas both weight candidate allocations by the wall time a retry
// would cost.
type sample struct {
	value    float64
	wallTime float64 // seconds
}

// histogram is a fixed accumulator of observed peak resource values for one
// resource dimension in one category. Categories run for the lifetime of a
// manager process and sample counts are modest (thousands, not millions),
// so samples are kept in full rather than bucketed/decayed.
type histogram struct {
	samples []sample
	sorted  bool
}

func (h *histogram) add(value, wallTime float64) {
	h.samples = append(h.samples, sample{value: value, wallTime: wallTime})
	h.sorted = false
}

func (h *histogram) count() int {
	return len(h.samples)
}

func (h *histogram) ensureSorted() {
	if h.sorted {
		return
	}
	sort.Slice(h.samples, func(i, j int) bool { return h.samples[i].value < h.samples[j].value })
	h.sorted = true
}

func (h *histogram) max() float64 {
	if len(h.samples) == 0 {
		return 0
	}
	h.ensureSorted()
	return h.samples[len(h.samples)-1].value
}

func (h *histogram) meanWallTime() float64 {
	if len(h.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range h.samples {
		sum += s.wallTime
	}
	return sum / float64(len(h.samples))
}

// aboveStats returns, for candidate allocation a: the fraction of samples
// whose value exceeds a, and the sum of wall times of those samples (the
// wall time each would waste if retried at a_max).
func (h *histogram) aboveStats(a float64) (fraction float64, wallTimeSum float64) {
	if len(h.samples) == 0 {
		return 0, 0
	}
	var n int
	for _, s := range h.samples {
		if s.value > a {
			n++
			wallTimeSum += s.wallTime
		}
	}
	return float64(n) / float64(len(h.samples)), wallTimeSum
}

// candidates returns the distinct sorted sample values, used as the search
// space for MinWaste/MaxThroughput/bucketing: the optimum of a step
// function over real-valued allocations is always at a sample value.
func (h *histogram) candidates() []float64 {
	h.ensureSorted()
	out := make([]float64, 0, len(h.samples))
	var last float64
	first := true
	for _, s := range h.samples {
		if first || s.value != last {
			out = append(out, s.value)
			last = s.value
			first = false
		}
	}
	return out
}
