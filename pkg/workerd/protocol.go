package workerd

import (
	"fmt"
	"os"
	"time"

	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/types"
	"github.com/ccl/workqueue/pkg/wire"
)

// handle dispatches one parsed manager->worker message. It returns done=true
// when the connection should be torn down (an "exit" was received).
func (d *Daemon) handle(msg *wire.Message) (done bool, err error) {
	switch msg.Verb {
	case wire.VerbPing:
		return false, d.send("%s", wire.VerbAlive)

	case wire.VerbFile:
		return false, d.handleFile(msg)

	case wire.VerbPutURL:
		return false, d.handlePutURL(msg)

	case wire.VerbPutCmd:
		return false, d.handlePutCmd(msg)

	case wire.VerbUnlink:
		name, err := wire.DecodeUnlink(msg)
		if err != nil {
			return false, err
		}
		return false, d.cache.Remove(name)

	case wire.VerbGetFile:
		return false, d.handleGetFile(msg)

	case wire.VerbTask:
		return false, d.handleTask(msg)

	case wire.VerbKill:
		taskID, err := wire.DecodeKill(msg)
		if err != nil {
			return false, err
		}
		d.killTask(taskID)
		return false, nil

	case wire.VerbExit:
		return true, nil

	default:
		return false, fmt.Errorf("%w: unknown verb %q", wire.ErrProtocol, msg.Verb)
	}
}

// handleFile receives a manager-pushed input object: the header has
// already been parsed, so it reads exactly Size bytes off the link,
// writes them to the cache path, and registers the object as present.
func (d *Daemon) handleFile(msg *wire.Message) error {
	f, err := wire.DecodeFile(msg)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(d.cfg.LineTimeout)
	buf := make([]byte, f.Size)
	if err := d.link.ReadExact(buf, int(f.Size), deadline); err != nil {
		return fmt.Errorf("workerd: read file %s: %w", f.CacheName, err)
	}
	if err := os.WriteFile(d.cache.Path(f.CacheName), buf, os.FileMode(f.Mode)); err != nil {
		return fmt.Errorf("workerd: write file %s: %w", f.CacheName, err)
	}
	d.cache.AddFile(f.CacheName, f.Size, int(f.Mode))
	return nil
}

// handlePutURL and handlePutCmd both queue a materialization and kick it
// off on its own goroutine: Ensure may block on a slow fetch or a
// producer command, and the protocol loop must stay responsive to
// ping/kill/exit while that runs.
func (d *Daemon) handlePutURL(msg *wire.Message) error {
	p, err := wire.DecodePutURL(msg)
	if err != nil {
		return err
	}
	d.cache.Queue(p.CacheName, types.CacheURL, p.URL, p.Size, int(p.Mode))
	go d.ensureAsync(p.CacheName)
	return nil
}

func (d *Daemon) handlePutCmd(msg *wire.Message) error {
	p, err := wire.DecodePutCmd(msg)
	if err != nil {
		return err
	}
	d.cache.Queue(p.CacheName, types.CacheProducerCommand, p.ShellTemplate, p.Size, int(p.Mode))
	go d.ensureAsync(p.CacheName)
	return nil
}

func (d *Daemon) ensureAsync(name string) {
	if _, err := d.cache.Ensure(name, d); err != nil {
		log.Warn(fmt.Sprintf("workerd: materialize %s: %v", name, err))
	}
}

// handleGetFile streams a present cache object back to the manager in
// response to an explicit request, used for task outputs.
func (d *Daemon) handleGetFile(msg *wire.Message) error {
	name, err := wire.DecodeGetFile(msg)
	if err != nil {
		return err
	}
	obj, ok := d.cache.Lookup(name)
	if !ok || !obj.Present {
		return fmt.Errorf("workerd: getfile %s: %w", name, ErrCacheMiss)
	}
	data, err := os.ReadFile(d.cache.Path(name))
	if err != nil {
		return fmt.Errorf("workerd: read %s: %w", name, err)
	}
	header := wire.EncodeFileStream(wire.FileStream{CacheName: name, Size: int64(len(data)), Mode: int64(obj.Mode)}).Encode()
	return d.sendPayload(header, data)
}
