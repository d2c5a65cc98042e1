/*
Package types defines the data model shared by every work-queue package:
Task and its FileSpec inputs/outputs, CacheObject (what a worker has
materialized locally), Worker and its ResourceVector, and the Category
engine's tuning knobs (CategoryMode, AllocationLabel). Enums are typed
strings with a const block, following the rest of this codebase; there
are no getters or setters, just plain structs passed by pointer when a
caller needs to mutate one.

Task state machine:

	ready → dispatched → running → (done | failed)

A Task's Requested vector starts nil and is filled in by the category
engine at dispatch time; OriginalRequested preserves whatever the
submitter passed to Submit, which the retry path needs to tell a
user-supplied resource hint apart from an auto-computed one.
*/
package types
