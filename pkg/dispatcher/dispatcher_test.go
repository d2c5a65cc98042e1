package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccl/workqueue/pkg/types"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int64) *int64     { return &v }

func registerTestWorker(m *Manager, id string, cores float64, memMB int64) {
	m.RegisterWorker(id, id, "10.0.0.1:0", types.ResourceVector{
		Cores:    ptrF(cores),
		MemoryMB: ptrI(memMB),
		DiskMB:   ptrI(100000),
		GPUs:     ptrI(0),
	})
}

func TestSubmitAssignsIncreasingIDs(t *testing.T) {
	m := New(Config{})
	defer m.Close()

	id1, err := m.Submit(&types.Task{CommandLine: "echo a"})
	require.NoError(t, err)
	id2, err := m.Submit(&types.Task{CommandLine: "echo b"})
	require.NoError(t, err)
	assert.Less(t, id1, id2)
}

func TestSubmitRejectsEmptyCommand(t *testing.T) {
	m := New(Config{})
	defer m.Close()

	_, err := m.Submit(&types.Task{})
	assert.ErrorIs(t, err, ErrConfigError)
}

func TestSubmitFillsDefaultInputDirection(t *testing.T) {
	m := New(Config{})
	defer m.Close()

	task := &types.Task{
		CommandLine: "echo hi",
		Inputs:      []types.FileSpec{{CacheName: "in.txt", Cache: true}},
	}
	id, err := m.Submit(task)
	require.NoError(t, err)

	got := m.tasksByID[id]
	assert.Equal(t, types.DirectionInput, got.Inputs[0].Direction)
}

func TestScheduleNextRespectsResourceConservation(t *testing.T) {
	m := New(Config{})
	defer m.Close()
	registerTestWorker(m, "w1", 4, 8192)

	for i := 0; i < 3; i++ {
		cores := 2.0
		_, err := m.Submit(&types.Task{CommandLine: "echo hi", Requested: types.ResourceVector{Cores: &cores}})
		require.NoError(t, err)
	}

	var assigned int
	for {
		_, ok := m.ScheduleNext()
		if !ok {
			break
		}
		assigned++
	}
	// worker has 4 cores; at 2 cores/task only 2 of the 3 tasks can be
	// committed concurrently without violating resource conservation.
	assert.Equal(t, 2, assigned)

	w := m.workers["w1"]
	assert.LessOrEqual(t, derefF(w.Committed.Cores), derefF(w.Reported.Cores))
}

func TestScheduleNextPrefersWorkerWithFilesPresent(t *testing.T) {
	m := New(Config{})
	defer m.Close()
	registerTestWorker(m, "cold", 4, 8192)
	registerTestWorker(m, "warm", 4, 8192)
	m.workers["warm"].CacheContents["data.bin"] = true

	_, err := m.Submit(&types.Task{
		CommandLine: "echo hi",
		Algorithm:   types.AlgorithmFiles,
		Inputs:      []types.FileSpec{{CacheName: "data.bin", Cache: true}},
	})
	require.NoError(t, err)

	a, ok := m.ScheduleNext()
	require.True(t, ok)
	assert.Equal(t, "warm", a.WorkerID)
	assert.Empty(t, a.Deliveries, "warm worker already has the input, no delivery needed")
}

func TestScheduleNextDoesNotDuplicatePushForSecondTaskSameTick(t *testing.T) {
	m := New(Config{})
	defer m.Close()
	registerTestWorker(m, "w1", 4, 8192)

	for i := 0; i < 2; i++ {
		_, err := m.Submit(&types.Task{
			CommandLine: "echo hi",
			Algorithm:   types.AlgorithmFiles,
			Inputs:      []types.FileSpec{{CacheName: "shared.bin", Cache: true}},
		})
		require.NoError(t, err)
	}

	a1, ok := m.ScheduleNext()
	require.True(t, ok)
	assert.Len(t, a1.Deliveries, 1, "first dispatch of shared.bin must push it")

	a2, ok := m.ScheduleNext()
	require.True(t, ok)
	assert.Empty(t, a2.Deliveries, "second dispatch in the same tick must not re-push shared.bin before any cache-update reply")
}

func TestHandleResultSuccessReleasesResources(t *testing.T) {
	m := New(Config{})
	defer m.Close()
	registerTestWorker(m, "w1", 4, 8192)

	id, _ := m.Submit(&types.Task{CommandLine: "echo hi"})
	a, ok := m.ScheduleNext()
	require.True(t, ok)
	assert.Equal(t, id, a.Task.TaskID)

	task, err := m.HandleResult(ResultReport{WorkerID: "w1", TaskID: id, ReturnStatus: 0, Output: "hi\n", OutputsOK: true})
	require.NoError(t, err)
	assert.Equal(t, types.TaskDone, task.State)
	assert.Equal(t, types.ResultSuccess, task.Result)

	w := m.workers["w1"]
	assert.Equal(t, 0.0, derefF(w.Committed.Cores))
}

func TestDisconnectReassignsInFlightTasksPreservingIDs(t *testing.T) {
	m := New(Config{RetryLimit: 3})
	defer m.Close()
	registerTestWorker(m, "w1", 8, 16384)

	var ids []int64
	for i := 0; i < 2; i++ {
		id, err := m.Submit(&types.Task{CommandLine: "sleep 1", Tag: "job"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 0; i < 2; i++ {
		_, ok := m.ScheduleNext()
		require.True(t, ok)
	}

	m.Disconnect("w1")

	assert.Len(t, m.ready, 2)
	gotIDs := []int64{}
	for _, rt := range m.ready {
		gotIDs = append(gotIDs, rt.ID)
		assert.Equal(t, "job", rt.Tag)
	}
	assert.ElementsMatch(t, ids, gotIDs)

	_, stillConnected := m.workers["w1"]
	assert.False(t, stillConnected)
}

func TestHandleResultOverflowRetriesThenFails(t *testing.T) {
	m := New(Config{DefaultMode: types.ModeMax})
	defer m.Close()
	registerTestWorker(m, "w1", 4, 8192)

	id, _ := m.Submit(&types.Task{CommandLine: "big job", Category: "C"})
	_, ok := m.ScheduleNext()
	require.True(t, ok)

	task, err := m.HandleResult(ResultReport{
		WorkerID: "w1", TaskID: id, ReturnStatus: 1,
		Overflowed: true,
		Overflow:   map[types.Resource]float64{types.ResourceMemoryMB: 700},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskReady, task.State, "first overflow should retry at Max")

	retry, ok := m.ScheduleNext()
	require.True(t, ok)
	assert.EqualValues(t, 700, retry.Task.MemoryMB,
		"retry after overflow must use the escalated Max-label allocation, not the first attempt's")

	task2, err := m.HandleResult(ResultReport{
		WorkerID: "w1", TaskID: id, ReturnStatus: 1,
		Overflowed: true,
		Overflow:   map[types.Resource]float64{types.ResourceMemoryMB: 1024},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, task2.State, "second overflow at Max label should fail")
	assert.Equal(t, types.ResultResourceExhaustion, task2.Result)
}

func TestWaitReturnsFinishedTask(t *testing.T) {
	m := New(Config{})
	defer m.Close()
	registerTestWorker(m, "w1", 4, 8192)

	id, _ := m.Submit(&types.Task{CommandLine: "echo hi"})
	_, ok := m.ScheduleNext()
	require.True(t, ok)
	_, err := m.HandleResult(ResultReport{WorkerID: "w1", TaskID: id, ReturnStatus: 0, Output: "hi\n", OutputsOK: true})
	require.NoError(t, err)

	got := m.Wait(time.Second)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
}

func TestWaitTimesOutWithNoFinishedTasks(t *testing.T) {
	m := New(Config{})
	defer m.Close()
	got := m.Wait(30 * time.Millisecond)
	assert.Nil(t, got)
}

func TestCancelRemovesReadyTask(t *testing.T) {
	m := New(Config{})
	defer m.Close()
	id, _ := m.Submit(&types.Task{CommandLine: "echo hi"})
	require.NoError(t, m.Cancel(id))
	assert.Len(t, m.ready, 0)
}

func TestCheckKeepalivesDisconnectsStaleWorkers(t *testing.T) {
	m := New(Config{KeepaliveExpiry: 10 * time.Millisecond})
	defer m.Close()
	registerTestWorker(m, "w1", 4, 8192)
	registerTestWorker(m, "w2", 4, 8192)
	time.Sleep(20 * time.Millisecond)

	stale := m.CheckKeepalives(time.Now())
	assert.ElementsMatch(t, []string{"w1", "w2"}, stale)
	assert.Len(t, m.workers, 0)
}
