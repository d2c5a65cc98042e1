// Package cache implements the worker-side content-addressed object cache
// (C3): a keyed store under a per-worker directory with at-most-once
// materialization of queued objects.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/metrics"
	"github.com/ccl/workqueue/pkg/types"
	"github.com/ccl/workqueue/pkg/wire"
)

// ErrNotQueued is returned by Ensure when the name was never registered by
// AddFile or Queue.
var ErrNotQueued = fmt.Errorf("cache: object not queued")

// ErrWrongKind is returned when Ensure is asked to materialize an object
// whose kind claims it is already present (PushedByManager).
var ErrWrongKind = fmt.Errorf("cache: pushed object is not present")

// Sender is the mutex-guarded single-line writer a transport exposes.
// Ensure reports cache-update/cache-invalid through it rather than a raw
// *wire.Link, so a materialization goroutine can never interleave a
// partial line with another goroutine (e.g. task-result reporting)
// writing to the same connection concurrently.
type Sender interface {
	Send(format string, args ...any) error
}

// Cache is the worker's on-disk object store. One Cache serves every task
// running on a worker; Ensure calls for the same name racing from
// concurrent tasks are coalesced by a singleflight.Group so the
// materialization logic (an HTTP fetch or a producer command) runs once.
type Cache struct {
	dir string

	mu      sync.Mutex
	objects map[string]*types.CacheObject

	group singleflight.Group
}

// New opens (creating if necessary) the cache directory.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cache: create dir %s: %w", dir, err)
	}
	return &Cache{dir: dir, objects: make(map[string]*types.CacheObject)}, nil
}

// Path returns the on-disk path a cache_name resolves to.
func (c *Cache) Path(name string) string {
	return filepath.Join(c.dir, name)
}

// AddFile registers an object the manager has already pushed to the cache
// directory as present.
func (c *Cache) AddFile(name string, size int64, mode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[name] = &types.CacheObject{
		CacheName:    name,
		Kind:         types.CachePushedByManager,
		ExpectedSize: size,
		ActualSize:   size,
		Mode:         mode,
		Present:      true,
	}
}

// Queue records an intent to materialize a name later; no I/O happens here.
func (c *Cache) Queue(name string, kind types.CacheKind, source string, expectedSize int64, mode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.objects[name]; ok && existing.Present {
		return
	}
	c.objects[name] = &types.CacheObject{
		CacheName:    name,
		Kind:         kind,
		Source:       source,
		ExpectedSize: expectedSize,
		Mode:         mode,
	}
}

// Lookup returns a copy of an object's current record, if known.
func (c *Cache) Lookup(name string) (types.CacheObject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[name]
	if !ok {
		return types.CacheObject{}, false
	}
	return *obj, true
}

// Ensure materializes name if it is not already present, reporting the
// outcome to the manager over sender via cache-update/cache-invalid. It
// returns true iff the object is present on return.
func (c *Cache) Ensure(name string, sender Sender) (bool, error) {
	c.mu.Lock()
	obj, ok := c.objects[name]
	if !ok {
		c.mu.Unlock()
		log.Warn(fmt.Sprintf("ensure requested for unknown cache object: %s", name))
		return false, ErrNotQueued
	}
	if obj.Present {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	result, err, _ := c.group.Do(name, func() (any, error) {
		return c.materialize(name, sender)
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (c *Cache) materialize(name string, sender Sender) (bool, error) {
	c.mu.Lock()
	obj, ok := c.objects[name]
	if !ok {
		c.mu.Unlock()
		return false, ErrNotQueued
	}
	if obj.Present {
		c.mu.Unlock()
		return true, nil
	}
	kind := obj.Kind
	source := obj.Source
	mode := obj.Mode
	obj.InProgress = true
	obj.TransferStart = time.Now()
	c.mu.Unlock()

	target := c.Path(name)
	timer := metrics.NewTimer()

	var fetchErr error
	switch kind {
	case types.CachePushedByManager:
		fetchErr = ErrWrongKind
	case types.CacheURL:
		fetchErr = fetchURL(source, target)
	case types.CacheProducerCommand:
		fetchErr = runProducerCommand(source, target)
	default:
		fetchErr = fmt.Errorf("cache: unknown kind %q", kind)
	}

	elapsed := timer.Duration()
	timer.ObserveDurationVec(metrics.CacheMaterializationDuration, string(kind))

	if fetchErr != nil {
		os.Remove(target)
		c.mu.Lock()
		obj.InProgress = false
		c.mu.Unlock()
		reportInvalid(sender, name, fetchErr.Error())
		metrics.CacheMaterializations.WithLabelValues(string(kind), "failure").Inc()
		return false, fetchErr
	}

	if err := os.Chmod(target, os.FileMode(mode)); err != nil {
		os.Remove(target)
		c.mu.Lock()
		obj.InProgress = false
		c.mu.Unlock()
		reportInvalid(sender, name, err.Error())
		metrics.CacheMaterializations.WithLabelValues(string(kind), "failure").Inc()
		return false, fmt.Errorf("cache: chmod %s: %w", target, err)
	}

	info, err := os.Stat(target)
	if err != nil {
		c.mu.Lock()
		obj.InProgress = false
		c.mu.Unlock()
		reportInvalid(sender, name, err.Error())
		metrics.CacheMaterializations.WithLabelValues(string(kind), "failure").Inc()
		return false, fmt.Errorf("cache: stat %s: %w", target, err)
	}

	c.mu.Lock()
	obj.Present = true
	obj.InProgress = false
	obj.ActualSize = info.Size()
	obj.TransferElapsed = elapsed
	c.mu.Unlock()

	metrics.CacheMaterializations.WithLabelValues(string(kind), "success").Inc()

	if sender != nil {
		msg := wire.EncodeCacheUpdate(wire.CacheUpdate{
			CacheName:   name,
			SizeBytes:   info.Size(),
			ElapsedUsec: elapsed.Microseconds(),
		})
		if err := sender.Send("%s", msg.Encode()); err != nil {
			return true, fmt.Errorf("cache: report update for %s: %w", name, err)
		}
	}
	return true, nil
}

func reportInvalid(sender Sender, name, reason string) {
	if sender == nil {
		return
	}
	msg := wire.EncodeCacheInvalid(wire.CacheInvalid{CacheName: name, Message: reason})
	_ = sender.Send("%s", msg.Encode())
}

// Remove unlinks a cache object and drops its record, for manager-driven
// invalidation.
func (c *Cache) Remove(name string) error {
	c.mu.Lock()
	delete(c.objects, name)
	c.mu.Unlock()
	err := os.Remove(c.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: remove %s: %w", name, err)
	}
	return nil
}
