/*
Package queue is the embedding API: manager_create, manager_submit,
manager_wait, manager_cancel, manager_stats, and the task_specify_*
builder methods, wrapping pkg/dispatcher for direct in-process callers.
It carries no wire-protocol or transport concerns of its own — those
belong to pkg/mgrd, which drives pkg/dispatcher's worker-facing side
over pkg/wire.
*/
package queue
