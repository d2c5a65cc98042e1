package dispatcher

import "errors"

// ErrConfigError marks an invalid submission, surfaced to the embedder
// synchronously rather than as a task failure.
var ErrConfigError = errors.New("dispatcher: config error")

// ErrResourceOverflow marks a task that exceeded its allocated resources;
// the category engine decides whether it is retried at a larger allocation
// or failed outright.
var ErrResourceOverflow = errors.New("dispatcher: resource overflow")

// ErrNoWorker names the case where no connected worker has enough free
// capacity for a task's requested resources. ScheduleNext does not return
// it; it reports that case as a false second result.
var ErrNoWorker = errors.New("dispatcher: no eligible worker")
