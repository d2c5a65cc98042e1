package workerd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/wire"
)

// runningTask is the daemon's bookkeeping for one in-flight child process,
// enough to service a "kill" request.
type runningTask struct {
	cancel context.CancelFunc
	mu     sync.Mutex
	cmd    *exec.Cmd
}

// handleTask reads the keyed lines of a task...end block off the link
// (the single protocol-loop goroutine is the only reader, so this is safe
// without extra locking) and executes it on its own goroutine.
func (d *Daemon) handleTask(msg *wire.Message) error {
	taskID, err := strconv.ParseInt(msg.Args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: task id: %v", wire.ErrProtocol, err)
	}

	var lines []string
	for {
		line, err := d.link.ReadLine(time.Now().Add(d.cfg.LineTimeout))
		if err != nil {
			return fmt.Errorf("workerd: read task block: %w", err)
		}
		lines = append(lines, line)
		if line == wire.VerbEnd {
			break
		}
	}

	block, err := wire.DecodeTaskBlock(taskID, lines)
	if err != nil {
		return err
	}

	rt := &runningTask{}
	d.tasksMu.Lock()
	d.tasks[taskID] = rt
	d.tasksMu.Unlock()

	go d.executeTask(block, rt)
	return nil
}

// killTask terminates a running task's child process, if it is still
// running. A task that already finished (and so is no longer in the
// table) is a no-op, matching a kill racing a result.
func (d *Daemon) killTask(taskID int64) {
	d.tasksMu.Lock()
	rt, ok := d.tasks[taskID]
	d.tasksMu.Unlock()
	if !ok {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.cmd != nil && rt.cmd.Process != nil {
		_ = rt.cmd.Process.Kill()
	}
	if rt.cancel != nil {
		rt.cancel()
	}
}

// executeTask runs one task block as a sandboxed child process and reports
// the outcome back to the manager. Inputs are materialized via the cache's
// Ensure (blocking this goroutine only, never the protocol loop) and hard
// linked into the sandbox; declared outputs are copied back into the cache
// directory and registered as present once the process exits.
func (d *Daemon) executeTask(block wire.TaskBlock, rt *runningTask) {
	logger := log.WithTaskID(block.TaskID)
	defer func() {
		d.tasksMu.Lock()
		delete(d.tasks, block.TaskID)
		d.tasksMu.Unlock()
	}()

	sandbox := filepath.Join(d.sandboxDir, strconv.FormatInt(block.TaskID, 10))
	if err := os.MkdirAll(sandbox, 0755); err != nil {
		d.reportSandboxFailure(block.TaskID, fmt.Errorf("%w: mkdir sandbox: %v", ErrSandbox, err))
		return
	}
	defer os.RemoveAll(sandbox)

	for _, name := range block.Inputs {
		present, err := d.cache.Ensure(name, d)
		if err != nil || !present {
			d.reportSandboxFailure(block.TaskID, fmt.Errorf("%w: input %s not available: %v", ErrCacheMiss, name, err))
			return
		}
		if err := linkOrCopy(d.cache.Path(name), filepath.Join(sandbox, name)); err != nil {
			d.reportSandboxFailure(block.TaskID, fmt.Errorf("%w: stage input %s: %v", ErrSandbox, name, err))
			return
		}
	}

	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if block.WallTime > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(block.WallTime)*time.Second)
	}
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", block.Cmd)
	cmd.Dir = sandbox
	cmd.Env = os.Environ()
	for k, v := range block.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout

	rt.mu.Lock()
	rt.cmd = cmd
	rt.cancel = cancel
	rt.mu.Unlock()

	cg := newTaskCgroup(block.TaskID, block.Cores, block.MemoryMB)
	defer cg.remove()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		d.reportSandboxFailure(block.TaskID, fmt.Errorf("%w: start process: %v", ErrSandbox, err))
		return
	}
	_ = cg.addPID(cmd.Process.Pid)

	stopMonitor := make(chan struct{})
	overflowCh := cg.monitor(stopMonitor, 500*time.Millisecond, block.Cores, block.MemoryMB)

	var overflow *overflowSample
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
		close(stopMonitor)
	case sample := <-overflowCh:
		overflow = &sample
		_ = cmd.Process.Kill()
		runErr = <-done
	}
	elapsed := time.Since(start)

	returnStatus := exitCode(runErr, ctx)
	if returnStatus != 0 {
		logger.Warn().Int("return_status", returnStatus).Msg("task exited non-zero")
	}
	if overflow != nil {
		logger.Warn().Int64("memory_mb", overflow.memoryMB).Msg("task killed after resource overflow")
	}

	for _, name := range block.Outputs {
		src := filepath.Join(sandbox, name)
		info, err := os.Stat(src)
		if err != nil {
			continue // declared output never produced; manager sees it missing on getfile
		}
		if err := linkOrCopy(src, d.cache.Path(name)); err != nil {
			log.Warn(fmt.Sprintf("workerd: stage output %s: %v", name, err))
			continue
		}
		d.cache.AddFile(name, info.Size(), int(info.Mode().Perm()))
	}

	d.reportResult(block.TaskID, returnStatus, stdout.Bytes(), elapsed, overflow)
}

func exitCode(err error, ctx context.Context) int {
	if err == nil {
		return 0
	}
	if ctx.Err() == context.DeadlineExceeded {
		return -9 // killed on wall-time breach; reported as the task's return status
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (d *Daemon) reportResult(taskID int64, returnStatus int, stdout []byte, elapsed time.Duration, overflow *overflowSample) {
	r := wire.Result{
		TaskID:       taskID,
		ReturnStatus: int64(returnStatus),
		StdoutSize:   int64(len(stdout)),
		ElapsedUsec:  elapsed.Microseconds(),
	}
	if overflow != nil {
		r.Overflowed = true
		r.OverflowCoresM = overflow.coresMilli
		r.OverflowMemoryMB = overflow.memoryMB
	}
	header := wire.EncodeResult(r).Encode()
	if err := d.sendPayload(header, stdout); err != nil {
		log.Warn(fmt.Sprintf("workerd: report result for task %d: %v", taskID, err))
	}
}

// reportSandboxFailure reports a task that never got to run because its
// inputs or sandbox could not be prepared; the manager sees a nonzero
// return status and the failure reason in stdout.
func (d *Daemon) reportSandboxFailure(taskID int64, err error) {
	log.Warn(fmt.Sprintf("workerd: task %d: %v", taskID, err))
	d.reportResult(taskID, -1, []byte(err.Error()), 0, nil)
}

// linkOrCopy hard links src to dst, falling back to a byte copy if the two
// paths are not on the same filesystem.
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
