package queue

import (
	"github.com/ccl/workqueue/pkg/types"
)

// Task is the embedder-facing task builder: task_create plus the
// task_specify_* family, wrapping a types.Task under construction.
type Task struct {
	task types.Task
}

// NewTask is task_create(command_line).
func NewTask(commandLine string) *Task {
	return &Task{task: types.Task{CommandLine: commandLine}}
}

// ID returns the task's assigned ID, valid only after Submit.
func (t *Task) ID() int64 { return t.task.ID }

// State returns the task's current lifecycle state.
func (t *Task) State() types.TaskState { return t.task.State }

// Result returns how the task finished (ResultUnset if still running).
func (t *Task) Result() types.TaskResult { return t.task.Result }

// ReturnStatus returns the task's process exit status.
func (t *Task) ReturnStatus() int { return t.task.ReturnStatus }

// Output returns the task's captured stdout/stderr, once finished.
func (t *Task) Output() string { return t.task.Output }

// SpecifyInputFile is task_specify_input_file: the worker stages
// cache_name into the sandbox as local_path before running the command.
// cacheFlag controls whether the object persists in the worker cache
// across tasks or is removed once this task finishes.
func (t *Task) SpecifyInputFile(localPath, cacheName string, cacheFlag bool) *Task {
	t.task.Inputs = append(t.task.Inputs, types.FileSpec{
		LocalPath: localPath,
		CacheName: cacheName,
		Cache:     cacheFlag,
		Direction: types.DirectionInput,
	})
	return t
}

// SpecifyOutputFile is task_specify_output_file: the worker harvests
// local_path from the sandbox after the command exits and registers it
// under cache_name.
func (t *Task) SpecifyOutputFile(cacheName, localPath string, cacheFlag bool) *Task {
	t.task.Outputs = append(t.task.Outputs, types.FileSpec{
		LocalPath: localPath,
		CacheName: cacheName,
		Cache:     cacheFlag,
		Direction: types.DirectionOutput,
	})
	return t
}

// SpecifyBuffer is task_specify_buffer: declares an input materialized
// directly from an in-memory buffer rather than a manager-local file.
// The buffer itself is pushed to the worker cache out of band (the wire
// protocol's "file" verb); this only records the input's presence in the
// task's file list.
func (t *Task) SpecifyBuffer(bytes []byte, cacheName string, cacheFlag bool) *Task {
	t.task.Inputs = append(t.task.Inputs, types.FileSpec{
		CacheName: cacheName,
		Cache:     cacheFlag,
		Direction: types.DirectionInput,
	})
	return t
}

// SpecifyCategory is task_specify_category: assigns the task to a named
// resource-allocation category.
func (t *Task) SpecifyCategory(name string) *Task {
	t.task.Category = name
	return t
}

// SpecifyTag is task_specify_tag: an opaque label the embedder can use
// to correlate a finished task with its own bookkeeping.
func (t *Task) SpecifyTag(tag string) *Task {
	t.task.Tag = tag
	return t
}

// SpecifyResources is task_specify_resources: an explicit per-dimension
// override of the category engine's auto-allocation. A nil pointer
// argument leaves that dimension on auto.
func (t *Task) SpecifyResources(cores *float64, memoryMB, diskMB, gpus *int64) *Task {
	t.task.Requested = types.ResourceVector{
		Cores:    cores,
		MemoryMB: memoryMB,
		DiskMB:   diskMB,
		GPUs:     gpus,
	}
	return t
}

// SpecifyAlgorithm overrides the scheduler's default candidate-scoring
// algorithm for this task.
func (t *Task) SpecifyAlgorithm(algo types.ScheduleAlgorithm) *Task {
	t.task.Algorithm = algo
	return t
}
