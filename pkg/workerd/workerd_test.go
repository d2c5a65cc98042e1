package workerd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccl/workqueue/pkg/wire"
)

// fakeManager accepts one connection and exposes it as a *wire.Link for the
// test to drive the protocol from the manager side.
func fakeManager(t *testing.T) (addr string, accept func() *wire.Link) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	return ln.Addr().String(), func() *wire.Link {
		conn, err := ln.Accept()
		require.NoError(t, err)
		return wire.NewLink(conn)
	}
}

func newTestDaemon(t *testing.T, addr string) *Daemon {
	t.Helper()
	d, err := New(Config{
		Name:        "w1",
		ManagerAddr: addr,
		WorkDir:     t.TempDir(),
		Cores:       4,
		MemoryMB:    8192,
		DiskMB:      100000,
		GPUs:        0,
		LineTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return d
}

func TestRunSendsReadyAndRespondsToPing(t *testing.T) {
	addr, accept := fakeManager(t)
	d := newTestDaemon(t, addr)

	done := make(chan error, 1)
	go func() { done <- d.Run(nil) }()

	link := accept()
	defer link.Close()

	deadline := time.Now().Add(5 * time.Second)
	line, err := link.ReadLine(deadline)
	require.NoError(t, err)
	msg, err := wire.ParseLine(line)
	require.NoError(t, err)
	ready, err := wire.DecodeReady(msg)
	require.NoError(t, err)
	assert.Equal(t, "w1", ready.WorkerName)
	assert.Equal(t, int64(4), ready.Cores)
	assert.Equal(t, int64(8192), ready.MemoryMB)

	require.NoError(t, link.Printf(deadline, "%s", wire.VerbPing))
	reply, err := link.ReadLine(deadline)
	require.NoError(t, err)
	assert.Equal(t, wire.VerbAlive, reply)

	require.NoError(t, link.Printf(deadline, "%s", wire.VerbExit))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after receiving exit")
	}
}

func TestHandleFileThenGetFileRoundTrips(t *testing.T) {
	addr, accept := fakeManager(t)
	d := newTestDaemon(t, addr)

	done := make(chan error, 1)
	go func() { done <- d.Run(nil) }()

	link := accept()
	defer link.Close()
	deadline := time.Now().Add(5 * time.Second)

	_, err := link.ReadLine(deadline) // ready
	require.NoError(t, err)

	payload := []byte("hello cache\n")
	header := wire.EncodeFile(wire.FilePush{CacheName: "input.txt", Size: int64(len(payload)), Mode: 0644}).Encode()
	require.NoError(t, link.Printf(deadline, "%s", header))
	require.NoError(t, link.WriteAll(payload, len(payload), deadline))

	require.NoError(t, link.Printf(deadline, "%s", wire.EncodeGetFile("input.txt").Encode()))
	line, err := link.ReadLine(deadline)
	require.NoError(t, err)
	msg, err := wire.ParseLine(line)
	require.NoError(t, err)
	fs, err := wire.DecodeFileStream(msg)
	require.NoError(t, err)
	assert.Equal(t, "input.txt", fs.CacheName)
	assert.Equal(t, int64(len(payload)), fs.Size)

	buf := make([]byte, fs.Size)
	require.NoError(t, link.ReadExact(buf, int(fs.Size), deadline))
	assert.Equal(t, payload, buf)

	require.NoError(t, link.Printf(deadline, "%s", wire.VerbExit))
	<-done
}

func TestTaskEchoRoundTrip(t *testing.T) {
	addr, accept := fakeManager(t)
	d := newTestDaemon(t, addr)

	done := make(chan error, 1)
	go func() { done <- d.Run(nil) }()

	link := accept()
	defer link.Close()
	deadline := time.Now().Add(5 * time.Second)

	_, err := link.ReadLine(deadline) // ready
	require.NoError(t, err)

	require.NoError(t, link.Printf(deadline, "task 1"))
	require.NoError(t, link.Printf(deadline, "cmd echo+hello"))
	require.NoError(t, link.Printf(deadline, "end"))

	line, err := link.ReadLine(time.Now().Add(10 * time.Second))
	require.NoError(t, err)
	msg, err := wire.ParseLine(line)
	require.NoError(t, err)
	res, err := wire.DecodeResult(msg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TaskID)
	assert.Equal(t, int64(0), res.ReturnStatus)

	stdout := make([]byte, res.StdoutSize)
	require.NoError(t, link.ReadExact(stdout, int(res.StdoutSize), time.Now().Add(5*time.Second)))
	assert.Equal(t, "hello\n", string(stdout))

	require.NoError(t, link.Printf(deadline, "%s", wire.VerbExit))
	<-done
}

func TestKillTerminatesRunningTask(t *testing.T) {
	addr, accept := fakeManager(t)
	d := newTestDaemon(t, addr)

	done := make(chan error, 1)
	go func() { done <- d.Run(nil) }()

	link := accept()
	defer link.Close()
	deadline := time.Now().Add(5 * time.Second)

	_, err := link.ReadLine(deadline) // ready
	require.NoError(t, err)

	require.NoError(t, link.Printf(deadline, "task 2"))
	require.NoError(t, link.Printf(deadline, "cmd sleep+5"))
	require.NoError(t, link.Printf(deadline, "end"))

	time.Sleep(100 * time.Millisecond) // let the task start
	require.NoError(t, link.Printf(deadline, "%s", wire.EncodeKill(2).Encode()))

	line, err := link.ReadLine(time.Now().Add(5 * time.Second))
	require.NoError(t, err)
	msg, err := wire.ParseLine(line)
	require.NoError(t, err)
	res, err := wire.DecodeResult(msg)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.TaskID)
	assert.NotEqual(t, int64(0), res.ReturnStatus)

	require.NoError(t, link.Printf(deadline, "%s", wire.VerbExit))
	<-done
}
