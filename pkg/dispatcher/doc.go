/*
Package dispatcher implements the manager side of the work queue (C5): the
ready queue, the worker table with resource-commitment accounting, the
scheduler that matches ready tasks to eligible workers, and the task
lifecycle that follows from dispatch through result or disconnect.

# Embedding API

Submit, Wait, Cancel, and Stats are the surface an embedding application
drives directly; everything else — RegisterWorker, ScheduleNext,
HandleResult, Disconnect, CheckKeepalives — is driven by a transport
reading and writing the wire protocol on the manager's behalf.

# Concurrency

A single mutex and condition variable protect all mutable state. This is
the Go-native analogue of the historical single-threaded event loop: every
exported method that touches shared state takes the lock for its
duration, and Wait blocks on the condition variable rather than polling.

# Resource accounting

Each workerEntry tracks Reported (total) and Committed (in-use) resources
per dimension; canFit and commitLocked/releaseLocked keep the two in sync
across dispatch, completion, cancellation, and disconnect, so a worker is
never assigned more than it reported.
*/
package dispatcher
