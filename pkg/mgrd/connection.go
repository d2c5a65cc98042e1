package mgrd

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ccl/workqueue/pkg/dispatcher"
	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/types"
	"github.com/ccl/workqueue/pkg/wire"
)

// handleConn owns one worker connection end to end: handshake,
// registration, and the read loop that feeds alive/result/cache reports
// back into the dispatcher. It returns once the connection ends, tearing
// down the worker's registration on the way out.
func (s *Server) handleConn(conn net.Conn) {
	link := wire.NewLink(conn)
	deadline := time.Now().Add(s.cfg.LineTimeout)

	if s.cfg.AuthChain != nil {
		if _, _, err := s.cfg.AuthChain.Accept(link, deadline); err != nil {
			log.Warn(fmt.Sprintf("mgrd: %v: %v", ErrHandshake, err))
			_ = link.Close()
			return
		}
	}

	ready, err := s.readReady(link, deadline)
	if err != nil {
		log.Warn(fmt.Sprintf("mgrd: %v: %v", ErrHandshake, err))
		_ = link.Close()
		return
	}

	workerID := newWorkerID()
	host, _ := link.RemoteAddress()
	resources := types.ResourceVector{
		Cores:    floatPtr(float64(ready.Cores)),
		MemoryMB: int64Ptr(ready.MemoryMB),
		DiskMB:   int64Ptr(ready.DiskMB),
		GPUs:     int64Ptr(ready.GPUs),
	}
	s.mgr.RegisterWorker(workerID, ready.WorkerName, host, resources)

	wl := &workerLink{link: link}
	s.mu.Lock()
	s.links[workerID] = wl
	s.mu.Unlock()

	defer s.teardown(workerID)
	s.readLoop(workerID, wl)
}

func (s *Server) readReady(link *wire.Link, deadline time.Time) (wire.Ready, error) {
	line, err := link.ReadLine(deadline)
	if err != nil {
		return wire.Ready{}, err
	}
	msg, err := wire.ParseLine(line)
	if err != nil {
		return wire.Ready{}, err
	}
	if msg.Verb != wire.VerbReady {
		return wire.Ready{}, fmt.Errorf("expected ready, got %q", msg.Verb)
	}
	return wire.DecodeReady(msg)
}

// readLoop is the single reader for this connection: every verb except
// "result" (which also consumes StdoutSize raw bytes) is a single line.
func (s *Server) readLoop(workerID string, wl *workerLink) {
	for {
		deadline := time.Now().Add(s.cfg.LineTimeout)
		line, err := wl.link.ReadLine(deadline)
		if err != nil {
			return
		}
		msg, err := wire.ParseLine(line)
		if err != nil {
			log.Warn(fmt.Sprintf("mgrd: %s: %v", workerID, err))
			continue
		}
		if err := s.handleMessage(workerID, wl, msg); err != nil {
			log.Warn(fmt.Sprintf("mgrd: %s: handling %s: %v", workerID, msg.Verb, err))
		}
	}
}

func (s *Server) handleMessage(workerID string, wl *workerLink, msg *wire.Message) error {
	switch msg.Verb {
	case wire.VerbAlive:
		s.mgr.Touch(workerID)
		return nil

	case wire.VerbCacheUpdate:
		c, err := wire.DecodeCacheUpdate(msg)
		if err != nil {
			return err
		}
		s.mgr.MarkCachePresent(workerID, c.CacheName)
		return nil

	case wire.VerbCacheInvalid:
		c, err := wire.DecodeCacheInvalid(msg)
		if err != nil {
			return err
		}
		s.mgr.MarkCacheAbsent(workerID, c.CacheName)
		return nil

	case wire.VerbResult:
		return s.handleResult(workerID, wl, msg)

	default:
		return fmt.Errorf("%w: unexpected verb %q from worker", wire.ErrProtocol, msg.Verb)
	}
}

func (s *Server) handleResult(workerID string, wl *workerLink, msg *wire.Message) error {
	r, err := wire.DecodeResult(msg)
	if err != nil {
		return err
	}
	stdout := make([]byte, r.StdoutSize)
	if r.StdoutSize > 0 {
		deadline := time.Now().Add(s.cfg.LineTimeout)
		if err := wl.link.ReadExact(stdout, int(r.StdoutSize), deadline); err != nil {
			return fmt.Errorf("read stdout for task %d: %w", r.TaskID, err)
		}
	}

	report := dispatcher.ResultReport{
		WorkerID:     workerID,
		TaskID:       r.TaskID,
		ReturnStatus: int(r.ReturnStatus),
		Output:       string(stdout),
	}
	if r.Overflowed {
		report.Overflowed = true
		report.Overflow = map[types.Resource]float64{
			types.ResourceCores:    float64(r.OverflowCoresM) / 1000,
			types.ResourceMemoryMB: float64(r.OverflowMemoryMB),
		}
	} else {
		report.OutputsOK = s.retrieveOutputs(r.TaskID, wl)
	}

	_, err = s.mgr.HandleResult(report)
	return err
}

// retrieveOutputs issues getfile for every output FileSpec remembered for
// taskID and writes the returned bytes to each one's LocalPath. wl's link
// is safe to read from here: readLoop is this connection's only reader and
// is blocked inside handleResult while this runs, so the getfile request
// and its file-stream reply are a clean request/response pair with no
// other goroutine's line able to land in between. Returns false, leaving
// any already-written outputs in place, on the first retrieval failure.
func (s *Server) retrieveOutputs(taskID int64, wl *workerLink) bool {
	outputs := s.takeOutputs(taskID)
	for _, f := range outputs {
		if err := s.retrieveOutput(taskID, f, wl); err != nil {
			log.Warn(fmt.Sprintf("mgrd: getfile %s for task %d: %v", f.CacheName, taskID, err))
			return false
		}
	}
	return true
}

func (s *Server) retrieveOutput(taskID int64, f types.FileSpec, wl *workerLink) error {
	deadline := time.Now().Add(s.cfg.LineTimeout)
	if err := wl.send(deadline, "%s", wire.EncodeGetFile(f.CacheName).Encode()); err != nil {
		return fmt.Errorf("send getfile: %w", err)
	}

	line, err := wl.link.ReadLine(deadline)
	if err != nil {
		return fmt.Errorf("read file-stream header: %w", err)
	}
	msg, err := wire.ParseLine(line)
	if err != nil {
		return err
	}
	if msg.Verb != wire.VerbFileStream {
		return fmt.Errorf("expected %s, got %q", wire.VerbFileStream, msg.Verb)
	}
	stream, err := wire.DecodeFileStream(msg)
	if err != nil {
		return err
	}

	data := make([]byte, stream.Size)
	if stream.Size > 0 {
		if err := wl.link.ReadExact(data, int(stream.Size), deadline); err != nil {
			return fmt.Errorf("read file-stream payload: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(f.LocalPath), 0755); err != nil {
		return fmt.Errorf("mkdir for output %s: %w", f.CacheName, err)
	}
	if err := os.WriteFile(f.LocalPath, data, os.FileMode(stream.Mode)); err != nil {
		return fmt.Errorf("write output %s: %w", f.CacheName, err)
	}
	return nil
}

func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64     { return &v }
