/*
Package workerd implements the worker side of the work queue protocol: it
dials a manager, negotiates the authentication chain, announces its
resources, and then runs the single-threaded protocol loop described by
the wire format — file/puturl/putcmd cache traffic, task dispatch, result
reporting, and keepalive.

# Execution model

Each task runs as a child process in its own sandbox directory, isolated
from the cache directory by hard links (falling back to a copy across
filesystems). Cache materialization (Ensure) and task execution both run
on their own goroutines so a slow fetch or a long-running task never
blocks the protocol loop's ping/kill/exit responsiveness; every write
back to the manager goes through a single mutex-guarded sender so
concurrent goroutines never interleave partial lines on the wire.

# Outputs

A finished task's declared outputs are copied into the cache directory
and registered as present, the same way a manager-pushed input is, so a
later getfile request or a subsequent task needing that name as an input
both see it immediately.
*/
package workerd
