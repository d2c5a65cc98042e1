package mgrd

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccl/workqueue/pkg/auth"
	"github.com/ccl/workqueue/pkg/dispatcher"
	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/types"
	"github.com/ccl/workqueue/pkg/wire"
)

// Config configures a Server.
type Config struct {
	AuthChain *auth.Chain

	LineTimeout       time.Duration
	DispatchInterval  time.Duration
	KeepaliveInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.LineTimeout <= 0 {
		c.LineTimeout = 90 * time.Second
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = 50 * time.Millisecond
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 15 * time.Second
	}
}

// workerLink pairs one worker's Link with the mutex that serializes writes
// to it: the dispatch pump (task assignments) and the keepalive pump
// (pings) both write to the same connection from different goroutines.
type workerLink struct {
	link    *wire.Link
	writeMu sync.Mutex
}

func (wl *workerLink) send(deadline time.Time, format string, args ...any) error {
	wl.writeMu.Lock()
	defer wl.writeMu.Unlock()
	return wl.link.Printf(deadline, format, args...)
}

func (wl *workerLink) sendPayload(deadline time.Time, header string, payload []byte) error {
	wl.writeMu.Lock()
	defer wl.writeMu.Unlock()
	if err := wl.link.Printf(deadline, "%s", header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return wl.link.WriteAll(payload, len(payload), deadline)
}

// Server accepts worker connections and drives a dispatcher.Manager from
// the wire protocol.
type Server struct {
	cfg Config
	mgr *dispatcher.Manager

	mu    sync.Mutex
	links map[string]*workerLink

	// outputsMu guards pendingOutputs, the declared output FileSpecs of
	// each in-flight task, remembered from dispatch time so handleResult
	// knows which cache_names to getfile and where to write them once the
	// result line comes back.
	outputsMu      sync.Mutex
	pendingOutputs map[int64][]types.FileSpec
}

// New creates a Server bound to mgr. mgr's exported methods are the only
// thing Server touches; it owns no dispatcher state of its own.
func New(mgr *dispatcher.Manager, cfg Config) *Server {
	cfg.setDefaults()
	return &Server{
		cfg:            cfg,
		mgr:            mgr,
		links:          make(map[string]*workerLink),
		pendingOutputs: make(map[int64][]types.FileSpec),
	}
}

// Run accepts connections on ln and serves them until stop is closed or ln
// is closed. It also starts the dispatch and keepalive pumps, and blocks
// until all three (accept loop, dispatch pump, keepalive pump) have exited.
func (s *Server) Run(ln net.Listener, stop <-chan struct{}) error {
	var wg sync.WaitGroup
	wg.Add(3)

	var acceptErr error
	go func() {
		defer wg.Done()
		acceptErr = s.acceptLoop(ln, stop)
	}()
	go func() {
		defer wg.Done()
		s.dispatchLoop(stop)
	}()
	go func() {
		defer wg.Done()
		s.keepaliveLoop(stop)
	}()

	wg.Wait()
	return acceptErr
}

func (s *Server) acceptLoop(ln net.Listener, stop <-chan struct{}) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				return fmt.Errorf("mgrd: accept: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

// dispatchLoop repeatedly drains every ready assignment the scheduler can
// currently make, then sleeps one tick.
func (s *Server) dispatchLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for {
				a, ok := s.mgr.ScheduleNext()
				if !ok {
					break
				}
				s.deliver(a)
			}
		}
	}
}

func (s *Server) deliver(a dispatcher.Assignment) {
	s.mu.Lock()
	wl, ok := s.links[a.WorkerID]
	s.mu.Unlock()
	if !ok {
		log.Warn(fmt.Sprintf("mgrd: assignment for unknown worker %s", a.WorkerID))
		s.mgr.Disconnect(a.WorkerID)
		return
	}

	if len(a.Outputs) > 0 {
		s.outputsMu.Lock()
		s.pendingOutputs[a.Task.TaskID] = a.Outputs
		s.outputsMu.Unlock()
	}

	deadline := time.Now().Add(s.cfg.LineTimeout)
	if err := s.deliverLocked(wl, a, deadline); err != nil {
		log.Warn(fmt.Sprintf("mgrd: deliver task %d to %s: %v", a.Task.TaskID, a.WorkerID, err))
		s.teardown(a.WorkerID)
	}
}

// takeOutputs returns and forgets the output FileSpecs remembered for
// taskID, if any were declared at dispatch time.
func (s *Server) takeOutputs(taskID int64) []types.FileSpec {
	s.outputsMu.Lock()
	defer s.outputsMu.Unlock()
	outs := s.pendingOutputs[taskID]
	delete(s.pendingOutputs, taskID)
	return outs
}

func (s *Server) deliverLocked(wl *workerLink, a dispatcher.Assignment, deadline time.Time) error {
	for _, d := range a.Deliveries {
		switch d.Kind {
		case "file":
			if err := s.deliverFile(wl, d, deadline); err != nil {
				return err
			}
		case "puturl":
			if err := wl.send(deadline, "%s", wire.EncodePutURL(*d.URL).Encode()); err != nil {
				return err
			}
		case "putcmd":
			if err := wl.send(deadline, "%s", wire.EncodePutCmd(*d.Cmd).Encode()); err != nil {
				return err
			}
		}
	}
	for _, line := range wire.EncodeTaskBlock(a.Task) {
		if err := wl.send(deadline, "%s", line); err != nil {
			return err
		}
	}
	return nil
}

// deliverFile reads the input object off the manager's own filesystem and
// pushes cache_name plus its bytes under one hold of the link's write
// lock, so no other goroutine's line can land between the header and the
// payload.
func (s *Server) deliverFile(wl *workerLink, d dispatcher.DeliveryCommand, deadline time.Time) error {
	data, err := os.ReadFile(d.LocalPath)
	if err != nil {
		return fmt.Errorf("read input %s: %w", d.LocalPath, err)
	}
	header := wire.EncodeFile(wire.FilePush{
		CacheName: d.File.CacheName,
		Size:      int64(len(data)),
		Mode:      d.File.Mode,
	}).Encode()
	return wl.sendPayload(deadline, header, data)
}

func (s *Server) keepaliveLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.pingAll()
			s.mgr.CheckKeepalives(time.Now())
		}
	}
}

func (s *Server) pingAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.links))
	for id := range s.links {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(s.cfg.LineTimeout)
	for _, id := range ids {
		s.mu.Lock()
		wl, ok := s.links[id]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := wl.send(deadline, "%s", wire.VerbPing); err != nil {
			s.teardown(id)
		}
	}
}

func (s *Server) teardown(workerID string) {
	s.mu.Lock()
	wl, ok := s.links[workerID]
	delete(s.links, workerID)
	s.mu.Unlock()
	if ok {
		_ = wl.link.Close()
	}
	s.mgr.Disconnect(workerID)
}

func newWorkerID() string {
	return uuid.NewString()
}
