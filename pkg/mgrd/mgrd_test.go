package mgrd

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccl/workqueue/pkg/dispatcher"
	"github.com/ccl/workqueue/pkg/types"
	"github.com/ccl/workqueue/pkg/wire"
)

func newTestServer(t *testing.T) (*Server, *dispatcher.Manager, net.Listener, chan struct{}) {
	t.Helper()
	mgr := dispatcher.New(dispatcher.Config{})
	t.Cleanup(mgr.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := New(mgr, Config{
		LineTimeout:       5 * time.Second,
		DispatchInterval:  10 * time.Millisecond,
		KeepaliveInterval: time.Hour, // quiesced; keepalive behavior has its own test
	})

	stop := make(chan struct{})
	go srv.Run(ln, stop)
	t.Cleanup(func() { close(stop) })

	return srv, mgr, ln, stop
}

func dialWorker(t *testing.T, addr string, name string) *wire.Link {
	t.Helper()
	link, err := wire.Dial(addr, time.Now().Add(5*time.Second))
	require.NoError(t, err)
	deadline := time.Now().Add(5 * time.Second)
	ready := wire.EncodeReady(wire.Ready{
		WorkerName: name,
		Cores:      4,
		MemoryMB:   8192,
		DiskMB:     100000,
		Workdir:    "/tmp/worker",
	})
	require.NoError(t, link.Printf(deadline, "%s", ready.Encode()))
	return link
}

func TestRegistersWorkerOnReady(t *testing.T) {
	_, mgr, ln, _ := newTestServer(t)
	link := dialWorker(t, ln.Addr().String(), "w1")
	defer link.Close()

	require.Eventually(t, func() bool {
		return mgr.Stats().WorkersActive == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchesTaskAndHandlesResult(t *testing.T) {
	_, mgr, ln, _ := newTestServer(t)
	link := dialWorker(t, ln.Addr().String(), "w1")
	defer link.Close()

	require.Eventually(t, func() bool {
		return mgr.Stats().WorkersActive == 1
	}, 2*time.Second, 10*time.Millisecond)

	id, err := mgr.Submit(&types.Task{CommandLine: "echo hi"})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	line, err := link.ReadLine(deadline)
	require.NoError(t, err)
	msg, err := wire.ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, wire.VerbTask, msg.Verb)

	var blockLines []string
	for {
		l, err := link.ReadLine(deadline)
		require.NoError(t, err)
		blockLines = append(blockLines, l)
		if l == wire.VerbEnd {
			break
		}
	}
	block, err := wire.DecodeTaskBlock(id, blockLines)
	require.NoError(t, err)
	assert.Equal(t, "echo hi", block.Cmd)

	result := wire.EncodeResult(wire.Result{TaskID: id, ReturnStatus: 0, StdoutSize: 3}).Encode()
	require.NoError(t, link.Printf(deadline, "%s", result))
	require.NoError(t, link.WriteAll([]byte("hi\n"), 3, deadline))

	got := mgr.Wait(2 * time.Second)
	require.NotNil(t, got)
	assert.Equal(t, types.ResultSuccess, got.Result)
	assert.Equal(t, "hi\n", got.Output)
}

func TestPushesInputFileFromLocalPath(t *testing.T) {
	_, mgr, ln, _ := newTestServer(t)
	link := dialWorker(t, ln.Addr().String(), "w1")
	defer link.Close()

	require.Eventually(t, func() bool {
		return mgr.Stats().WorkersActive == 1
	}, 2*time.Second, 10*time.Millisecond)

	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	_, err := mgr.Submit(&types.Task{
		CommandLine: "cat in.txt",
		Inputs:      []types.FileSpec{{LocalPath: src, CacheName: "in.txt", Cache: true}},
	})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	line, err := link.ReadLine(deadline)
	require.NoError(t, err)
	msg, err := wire.ParseLine(line)
	require.NoError(t, err)
	require.Equal(t, wire.VerbFile, msg.Verb)

	f, err := wire.DecodeFile(msg)
	require.NoError(t, err)
	assert.Equal(t, "in.txt", f.CacheName)
	assert.Equal(t, int64(len("payload")), f.Size)

	buf := make([]byte, f.Size)
	require.NoError(t, link.ReadExact(buf, int(f.Size), deadline))
	assert.Equal(t, "payload", string(buf))
}

func TestHandleResultRetrievesDeclaredOutputViaGetfile(t *testing.T) {
	_, mgr, ln, _ := newTestServer(t)
	link := dialWorker(t, ln.Addr().String(), "w1")
	defer link.Close()

	require.Eventually(t, func() bool {
		return mgr.Stats().WorkersActive == 1
	}, 2*time.Second, 10*time.Millisecond)

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")

	id, err := mgr.Submit(&types.Task{
		CommandLine: "produce out.txt",
		Outputs:     []types.FileSpec{{CacheName: "out.txt", LocalPath: outPath, Mode: 0644}},
	})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	line, err := link.ReadLine(deadline)
	require.NoError(t, err)
	msg, err := wire.ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, wire.VerbTask, msg.Verb)

	for {
		l, err := link.ReadLine(deadline)
		require.NoError(t, err)
		if l == wire.VerbEnd {
			break
		}
	}

	result := wire.EncodeResult(wire.Result{TaskID: id, ReturnStatus: 0, StdoutSize: 0}).Encode()
	require.NoError(t, link.Printf(deadline, "%s", result))

	line, err = link.ReadLine(deadline)
	require.NoError(t, err)
	msg, err = wire.ParseLine(line)
	require.NoError(t, err)
	require.Equal(t, wire.VerbGetFile, msg.Verb)
	cacheName, err := wire.DecodeGetFile(msg)
	require.NoError(t, err)
	assert.Equal(t, "out.txt", cacheName)

	payload := []byte("produced bytes")
	header := wire.EncodeFileStream(wire.FileStream{CacheName: cacheName, Size: int64(len(payload)), Mode: 0644}).Encode()
	require.NoError(t, link.Printf(deadline, "%s", header))
	require.NoError(t, link.WriteAll(payload, len(payload), deadline))

	got := mgr.Wait(2 * time.Second)
	require.NotNil(t, got)
	assert.Equal(t, types.ResultSuccess, got.Result)

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, payload, written)
}

func TestCacheUpdateMarksPresent(t *testing.T) {
	_, mgr, ln, _ := newTestServer(t)
	link := dialWorker(t, ln.Addr().String(), "w1")
	defer link.Close()

	require.Eventually(t, func() bool {
		return mgr.Stats().WorkersActive == 1
	}, 2*time.Second, 10*time.Millisecond)

	deadline := time.Now().Add(5 * time.Second)
	update := wire.EncodeCacheUpdate(wire.CacheUpdate{CacheName: "obj1", SizeBytes: 10, ElapsedUsec: 5}).Encode()
	require.NoError(t, link.Printf(deadline, "%s", update))

	// MarkCachePresent is checked through dispatch: a task depending on
	// obj1 arrives as a bare task block. Had obj1 not been marked, the
	// server would attempt a file push from the empty LocalPath, fail, and
	// tear the connection down.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, mgr.Stats().WorkersActive)

	_, err := mgr.Submit(&types.Task{
		CommandLine: "cat obj1",
		Inputs:      []types.FileSpec{{CacheName: "obj1", Cache: true}},
	})
	require.NoError(t, err)
	line, err := link.ReadLine(deadline)
	require.NoError(t, err)
	msg, err := wire.ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, wire.VerbTask, msg.Verb)
}
