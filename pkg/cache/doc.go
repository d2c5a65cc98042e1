/*
Package cache implements a worker's content-addressed object store:
AddFile registers objects the manager has already pushed, Queue records an
intent to materialize a URL fetch or producer-command build later, and
Ensure performs that materialization on first use.

# At-most-once materialization

Two tasks racing to Ensure the same cache_name must not both run the
producer. Ensure coalesces concurrent callers for the same name through a
golang.org/x/sync/singleflight.Group, so the underlying HTTP fetch or shell
command executes exactly once regardless of how many tasks are waiting on
it; every caller observes the same outcome.

# Reporting

On success Ensure reports a cache-update line back to the manager through
the supplied Sender; on failure it reports cache-invalid and leaves no
partial file behind. Callers that materialize outside of a live connection
(tests, for example) may pass a nil Sender.
*/
package cache
