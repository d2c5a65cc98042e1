package dispatcher

import (
	"time"

	"github.com/ccl/workqueue/pkg/storage"
	"github.com/ccl/workqueue/pkg/types"
)

// toCompletionRecord converts a finished task into the durable record the
// warm-start log persists.
func toCompletionRecord(t *types.Task, wallTime time.Duration) *storage.CompletionRecord {
	return &storage.CompletionRecord{
		TaskID:     t.ID,
		Category:   t.Category,
		Result:     t.Result,
		Cores:      derefF(t.Requested.Cores),
		MemoryMB:   derefI(t.Requested.MemoryMB),
		DiskMB:     derefI(t.Requested.DiskMB),
		GPUs:       derefI(t.Requested.GPUs),
		WallTimeMS: wallTime.Milliseconds(),
		FinishedAt: t.FinishTime.UnixNano(),
	}
}
