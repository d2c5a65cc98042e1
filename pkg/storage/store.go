// Package storage provides the manager's optional warm-start persistence:
// a record of completed tasks and a snapshot of each category's resource
// engine state. The stored data is not fed back into allocation decisions
// when a manager restarts.
package storage

import "github.com/ccl/workqueue/pkg/types"

// CompletionRecord is the durable record of one finished task, enough to
// replay category statistics on warm start.
type CompletionRecord struct {
	TaskID     int64
	Category   string
	Result     types.TaskResult
	Cores      float64
	MemoryMB   int64
	DiskMB     int64
	GPUs       int64
	WallTimeMS int64
	FinishedAt int64 // unix nanos
}

// CategorySnapshot is the durable record of a category's accumulated
// resource-engine state.
type CategorySnapshot struct {
	Name string
	Data []byte // opaque, category-engine-owned encoding
}

// Store defines the interface for the manager's warm-start log.
type Store interface {
	AppendCompletion(rec *CompletionRecord) error
	ListCompletions() ([]*CompletionRecord, error)

	SaveCategorySnapshot(snap *CategorySnapshot) error
	GetCategorySnapshot(name string) (*CategorySnapshot, error)
	ListCategorySnapshots() ([]*CategorySnapshot, error)

	Close() error
}
