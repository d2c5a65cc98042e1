// Package types defines the data model shared across the work queue core:
// tasks, file specifications, cache objects, workers, categories, and the
// resource vectors used to size and bill them.
package types

import "time"

// Task is a unit of work submitted by the embedding application.
type Task struct {
	ID             int64
	CommandLine    string
	Tag            string
	Category       string
	Inputs         []FileSpec
	Outputs        []FileSpec
	Environment    map[string]string
	Requested      ResourceVector
	Algorithm      ScheduleAlgorithm
	State          TaskState
	Result         TaskResult
	ReturnStatus   int
	Output         string
	AssignedWorker string
	FailureCount   int
	SubmitTime     time.Time
	StartTime      time.Time
	FinishTime     time.Time
	// OriginalRequested is the resource vector exactly as submitted, before
	// ScheduleNext fills in auto-allocated values. Kept so the two-step
	// retry contract can tell a user override from a category-computed
	// allocation after dispatch has overwritten Requested.
	OriginalRequested ResourceVector
}

// TaskState is the lifecycle stage of a Task.
type TaskState string

const (
	TaskReady      TaskState = "ready"
	TaskDispatched TaskState = "dispatched"
	TaskRunning    TaskState = "running"
	TaskDone       TaskState = "done"
	TaskFailed     TaskState = "failed"
)

// TaskResult classifies how a Task finished.
type TaskResult string

const (
	ResultUnset              TaskResult = "unset"
	ResultSuccess            TaskResult = "success"
	ResultInputMissing       TaskResult = "input_missing"
	ResultOutputMissing      TaskResult = "output_missing"
	ResultSignalKilled       TaskResult = "signal_killed"
	ResultResourceExhaustion TaskResult = "resource_exhaustion"
	ResultTransferError      TaskResult = "transfer_error"
	ResultWorkerDisconnect   TaskResult = "worker_disconnect"
)

// ScheduleAlgorithm picks how the dispatcher scores candidate workers.
type ScheduleAlgorithm string

const (
	AlgorithmFiles  ScheduleAlgorithm = "files"
	AlgorithmFCFS   ScheduleAlgorithm = "fcfs"
	AlgorithmTime   ScheduleAlgorithm = "time"
	AlgorithmRandom ScheduleAlgorithm = "random"
)

// FileDirection marks whether a FileSpec is consumed or produced by a Task.
type FileDirection string

const (
	DirectionInput  FileDirection = "input"
	DirectionOutput FileDirection = "output"
)

// FileSpec declares one file dependency of a Task.
type FileSpec struct {
	LocalPath string
	CacheName string
	Cache     bool
	Direction FileDirection
	Mode      int
}

// CacheKind discriminates how a CacheObject is materialized on a worker.
type CacheKind string

const (
	CachePushedByManager CacheKind = "pushed"
	CacheURL             CacheKind = "url"
	CacheProducerCommand CacheKind = "command"
)

// CacheObject is the worker-side record for one cache_name.
type CacheObject struct {
	CacheName       string
	Kind            CacheKind
	Source          string
	ExpectedSize    int64
	ActualSize      int64
	Mode            int
	Present         bool
	InProgress      bool
	TransferStart   time.Time
	TransferElapsed time.Duration
}

// WorkerState is the manager's view of a connected worker's lifecycle.
type WorkerState string

const (
	WorkerInit     WorkerState = "init"
	WorkerReady    WorkerState = "ready"
	WorkerBusy     WorkerState = "busy"
	WorkerDraining WorkerState = "draining"
	WorkerGone     WorkerState = "gone"
)

// Worker is the manager's record of one connected worker process.
type Worker struct {
	WorkerID     string
	Name         string
	Address      string
	Subject      string
	Reported     ResourceVector
	Committed    ResourceVector
	CacheContents map[string]bool
	State        WorkerState
	TaskIDs      map[int64]bool
	LastSeen     time.Time
	MeanTaskTime time.Duration
	ArrivalSeq   int64
}

// ResourceVector is a partial or full allocation of worker resources.
// A nil pointer field means "auto" / unset, per spec.
type ResourceVector struct {
	Cores    *float64
	MemoryMB *int64
	DiskMB   *int64
	GPUs     *int64
	WallTime *time.Duration
}

// CategoryMode selects the allocation policy applied to tasks in a category.
type CategoryMode string

const (
	ModeFixed               CategoryMode = "fixed"
	ModeMax                  CategoryMode = "max"
	ModeMinWaste             CategoryMode = "min_waste"
	ModeMaxThroughput        CategoryMode = "max_throughput"
	ModeGreedyBucketing      CategoryMode = "greedy_bucketing"
	ModeExhaustiveBucketing  CategoryMode = "exhaustive_bucketing"
)

// AllocationLabel is the two-step retry label the category engine hands back
// to the scheduler after a resource overflow.
type AllocationLabel string

const (
	LabelFirst AllocationLabel = "first"
	LabelMax   AllocationLabel = "max"
	LabelError AllocationLabel = "error"
)

// Resource names the five dimensions tracked per category.
type Resource string

const (
	ResourceCores    Resource = "cores"
	ResourceMemoryMB Resource = "memory_mb"
	ResourceDiskMB   Resource = "disk_mb"
	ResourceGPUs     Resource = "gpus"
	ResourceWallTime Resource = "wall_time_s"
)

// AllResources lists the tracked dimensions in a stable order.
var AllResources = []Resource{ResourceCores, ResourceMemoryMB, ResourceDiskMB, ResourceGPUs, ResourceWallTime}

// Stats is a snapshot of manager-wide counters, the embedding API's view
// of overall progress (manager_stats).
type Stats struct {
	TasksSubmitted int64
	TasksRunning   int64
	TasksDone      int64
	TasksFailed    int64
	TasksWaiting   int64
	WorkersJoined  int64
	WorkersGone    int64
	WorkersActive  int
}
