package workerd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccl/workqueue/pkg/auth"
	"github.com/ccl/workqueue/pkg/cache"
	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/wire"
)

// Config configures a Daemon.
type Config struct {
	Name        string
	ManagerAddr string
	WorkDir     string
	Cores       int64
	MemoryMB    int64
	DiskMB      int64
	GPUs        int64

	AuthChain *auth.Chain

	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	LineTimeout       time.Duration
}

func (c *Config) setDefaults() {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = 5 * c.KeepaliveInterval
	}
	if c.LineTimeout <= 0 {
		c.LineTimeout = c.KeepaliveTimeout
	}
}

// Daemon drives one worker's connection to a manager: the protocol loop,
// the object cache, and the sandboxes that task execution runs in.
type Daemon struct {
	cfg Config

	cache      *cache.Cache
	sandboxDir string

	link    *wire.Link
	writeMu sync.Mutex

	tasksMu sync.Mutex
	tasks   map[int64]*runningTask

	lastSent time.Time
}

// New creates a Daemon rooted at cfg.WorkDir. It does not dial the
// manager; call Run for that.
func New(cfg Config) (*Daemon, error) {
	cfg.setDefaults()
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("workerd: config error: WorkDir is required")
	}
	cacheDir := filepath.Join(cfg.WorkDir, "cache")
	sandboxDir := filepath.Join(cfg.WorkDir, "sandboxes")
	if err := os.MkdirAll(sandboxDir, 0755); err != nil {
		return nil, fmt.Errorf("workerd: create sandbox dir: %w", err)
	}
	c, err := cache.New(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("workerd: %w", err)
	}
	return &Daemon{
		cfg:        cfg,
		cache:      c,
		sandboxDir: sandboxDir,
		tasks:      make(map[int64]*runningTask),
	}, nil
}

// Send implements cache.Sender: it lets cache-materialization goroutines
// report cache-update/cache-invalid through the same writeMu-guarded
// writer the protocol loop and task-completion reporting use, instead of
// writing d.link directly and risking an interleaved partial line.
func (d *Daemon) Send(format string, args ...any) error {
	return d.send(format, args...)
}

// send serializes one outbound line against concurrent cache/task
// goroutines writing to the same link.
func (d *Daemon) send(format string, args ...any) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	deadline := time.Now().Add(d.cfg.LineTimeout)
	if err := d.link.Printf(deadline, format, args...); err != nil {
		return err
	}
	d.lastSent = time.Now()
	return nil
}

// sendPayload serializes a header line immediately followed by n raw
// bytes, so no other goroutine's line can land between the two.
func (d *Daemon) sendPayload(header string, payload []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	deadline := time.Now().Add(d.cfg.LineTimeout)
	if err := d.link.Printf(deadline, "%s", header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return d.link.WriteAll(payload, len(payload), deadline)
}

// Run dials the manager, negotiates authentication, announces readiness,
// and then serves the protocol loop until the manager sends exit, the
// link fails, or stop is closed.
func (d *Daemon) Run(stop <-chan struct{}) error {
	logger := log.WithWorkerID(d.cfg.Name)

	link, err := wire.Dial(d.cfg.ManagerAddr, time.Now().Add(30*time.Second))
	if err != nil {
		return fmt.Errorf("workerd: dial %s: %w", d.cfg.ManagerAddr, err)
	}
	d.link = link
	defer link.Close()

	if d.cfg.AuthChain != nil {
		if _, _, err := d.cfg.AuthChain.Assert(link, time.Now().Add(30*time.Second)); err != nil {
			return fmt.Errorf("workerd: auth: %w", err)
		}
	}

	readyMsg := wire.EncodeReady(wire.Ready{
		WorkerName: d.cfg.Name,
		Cores:      d.cfg.Cores,
		MemoryMB:   d.cfg.MemoryMB,
		DiskMB:     d.cfg.DiskMB,
		GPUs:       d.cfg.GPUs,
		Workdir:    d.cfg.WorkDir,
	})
	if err := d.send("%s", readyMsg.Encode()); err != nil {
		return fmt.Errorf("workerd: send ready: %w", err)
	}
	logger.Info().Str("manager", d.cfg.ManagerAddr).Msg("connected")

	return d.loop(stop)
}

func (d *Daemon) loop(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		line, err := d.link.ReadLine(time.Now().Add(d.cfg.LineTimeout))
		if err != nil {
			return fmt.Errorf("workerd: read line: %w", err)
		}
		msg, err := wire.ParseLine(line)
		if err != nil {
			log.Warn(fmt.Sprintf("workerd: %v", err))
			continue
		}
		done, err := d.handle(msg)
		if err != nil {
			log.Warn(fmt.Sprintf("workerd: handling %s: %v", msg.Verb, err))
		}
		if done {
			return nil
		}
	}
}

// Close releases the sandbox directory tree; callers normally let Run's
// defer close the link first.
func (d *Daemon) Close() error {
	return os.RemoveAll(d.sandboxDir)
}
