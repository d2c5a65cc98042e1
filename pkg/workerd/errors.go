package workerd

import "errors"

// ErrCacheMiss is returned when the manager asks for a cache_name the
// worker has no record of, or that has not finished materializing.
var ErrCacheMiss = errors.New("workerd: cache miss")

// ErrSandbox marks a local I/O failure setting up or tearing down a
// task's sandbox directory.
var ErrSandbox = errors.New("workerd: sandbox error")
