package workerd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// cgroupRoot is where this daemon creates one cgroup v2 directory per
// running task, so memory.max/cpu.max enforce the task's requested
// allocation directly on its process tree rather than through a container
// runtime.
const cgroupRoot = "/sys/fs/cgroup/workqueue"

// taskCgroup wraps one task's cgroup v2 directory. A zero-value taskCgroup
// (path == "") means cgroup enforcement is unavailable on this host; every
// method is then a no-op so task execution still proceeds without
// resource-overflow detection.
type taskCgroup struct {
	path string
}

// newTaskCgroup creates (or fails to) the cgroup for one task, writing its
// memory and CPU limits. A failure to create or configure it is not fatal:
// the caller proceeds without overflow enforcement for that task.
func newTaskCgroup(taskID int64, cores float64, memoryMB int64) *taskCgroup {
	path := filepath.Join(cgroupRoot, fmt.Sprintf("task-%d", taskID))
	if err := os.MkdirAll(path, 0755); err != nil {
		return &taskCgroup{}
	}
	c := &taskCgroup{path: path}
	if memoryMB > 0 {
		_ = c.write("memory.max", strconv.FormatInt(memoryMB*1024*1024, 10))
	}
	if cores > 0 {
		// cpu.max is "<quota> <period>" microseconds; quota = cores * period.
		const period = 100000
		quota := int64(cores * period)
		_ = c.write("cpu.max", fmt.Sprintf("%d %d", quota, period))
	}
	return c
}

func (c *taskCgroup) write(file, value string) error {
	if c.path == "" {
		return errors.New("workerd: no cgroup")
	}
	return os.WriteFile(filepath.Join(c.path, file), []byte(value), 0644)
}

// addPID joins pid to the cgroup; the kernel will OOM-kill it if memory.max
// is exceeded, or throttle it under cpu.max, but our own polling in
// monitor catches a memory overflow early enough to report it as a task
// result rather than a bare kernel kill.
func (c *taskCgroup) addPID(pid int) error {
	return c.write("cgroup.procs", strconv.Itoa(pid))
}

// usage reads current memory (bytes) and cumulative CPU time (usec) from
// the cgroup's accounting files.
func (c *taskCgroup) usage() (memoryBytes, cpuUsec int64) {
	if c.path == "" {
		return 0, 0
	}
	if b, err := os.ReadFile(filepath.Join(c.path, "memory.current")); err == nil {
		memoryBytes, _ = strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	}
	if b, err := os.ReadFile(filepath.Join(c.path, "cpu.stat")); err == nil {
		cpuUsec = parseCPUStatUsage(string(b))
	}
	return memoryBytes, cpuUsec
}

func parseCPUStatUsage(stat string) int64 {
	for _, line := range strings.Split(stat, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "usage_usec" {
			v, _ := strconv.ParseInt(fields[1], 10, 64)
			return v
		}
	}
	return 0
}

// remove tears down the cgroup directory once the task's process has
// exited; a non-empty cgroup refuses rmdir, so this is best-effort.
func (c *taskCgroup) remove() {
	if c.path == "" {
		return
	}
	_ = os.Remove(c.path)
}

// overflowSample is what monitor hands back when it observes usage past
// the task's requested allocation.
type overflowSample struct {
	coresMilli int64
	memoryMB   int64
}

// monitor polls the cgroup every interval until stop fires or a limit is
// exceeded, at which point it returns a non-nil sample describing the
// measured usage that triggered it. The caller is responsible for killing
// the process; monitor only observes.
func (c *taskCgroup) monitor(stop <-chan struct{}, interval time.Duration, cores float64, memoryMB int64) <-chan overflowSample {
	ch := make(chan overflowSample, 1)
	if c.path == "" {
		return ch
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		start := time.Now()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				memBytes, cpuUsec := c.usage()
				elapsed := time.Since(start).Microseconds()
				usedCores := float64(0)
				if elapsed > 0 {
					usedCores = float64(cpuUsec) / float64(elapsed)
				}
				memMB := memBytes / (1024 * 1024)
				overMem := memoryMB > 0 && memMB > memoryMB
				overCores := cores > 0 && usedCores > cores*1.1 // small grace margin
				if overMem || overCores {
					ch <- overflowSample{
						coresMilli: int64(usedCores * 1000),
						memoryMB:   memMB,
					}
					return
				}
			}
		}
	}()
	return ch
}
