/*
Package log provides structured logging for the work queue core using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all packages without passing a logger around
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs (dispatcher, cache, auth, wire)
  - WithWorkerID: Add worker_id context
  - WithTaskID: Add task_id context
  - WithCategory: Add category context

# Usage

Initializing the Logger:

	import "github.com/ccl/workqueue/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("manager listening")
	log.Debug("worker heartbeat received")
	log.Warn("worker keepalive overdue")
	log.Error("cache materialization failed")

Component Loggers:

	dispatchLog := log.WithComponent("dispatcher")
	dispatchLog.Info().Int64("task_id", taskID).Msg("task dispatched")

	cacheLog := log.WithComponent("cache").With().Str("worker_id", workerID).Logger()
	cacheLog.Error().Err(err).Str("cache_name", name).Msg("materialization failed")

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance initialized once at process start
  - Accessible from all packages without passing a logger through every call

Context Logger Pattern:
  - Create child loggers with context fields (component, worker_id, task_id)
  - Avoids repetitive field specification at every call site

Error Logging Pattern:
  - Always use .Err(err) for error values rather than string concatenation
  - Consistent error format across the dispatcher, worker daemon, and cache

# Log Rotation

The log package does not rotate files itself; pair it with logrotate or a
container runtime's log driver the same way the original codebase does.
*/
package log
