package metrics

import (
	"time"

	"github.com/ccl/workqueue/pkg/types"
)

// StatsSource is what a Collector polls. *dispatcher.Manager satisfies it;
// pkg/dispatcher imports this package, so Collector takes the interface
// rather than naming the dispatcher type.
type StatsSource interface {
	Stats() types.Stats
}

// Collector periodically resyncs gauge metrics from the dispatcher's
// Stats snapshot. Most counters are pushed inline at the point of state
// change (dispatch.go, result.go, disconnect.go); this exists as a
// cross-check against drift for the values that are cheaper to read as
// a point-in-time snapshot than to maintain incrementally.
type Collector struct {
	manager StatsSource
	stopCh  chan struct{}
}

// NewCollector creates a collector for mgr.
func NewCollector(mgr StatsSource) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15 second tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats := c.manager.Stats()
	WorkersActive.Set(float64(stats.WorkersActive))
	TasksWaiting.Set(float64(stats.TasksWaiting))
}
