package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyRoundTrip(t *testing.T) {
	r := Ready{WorkerName: "w1", Cores: 4, MemoryMB: 8192, DiskMB: 100000, GPUs: 1, Workdir: "/tmp/wq"}
	m, err := ParseLine(EncodeReady(r).Encode())
	require.NoError(t, err)
	require.Equal(t, VerbReady, m.Verb)

	got, err := DecodeReady(m)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestCacheUpdateRoundTrip(t *testing.T) {
	c := CacheUpdate{CacheName: "abc123", SizeBytes: 4096, ElapsedUsec: 1500}
	m, err := ParseLine(EncodeCacheUpdate(c).Encode())
	require.NoError(t, err)
	got, err := DecodeCacheUpdate(m)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCacheInvalidEscapesSpaces(t *testing.T) {
	c := CacheInvalid{CacheName: "xyz", Message: "fetch failed: connection refused"}
	line := EncodeCacheInvalid(c).Encode()
	assert.NotContains(t, line, " connection")

	m, err := ParseLine(line)
	require.NoError(t, err)
	got, err := DecodeCacheInvalid(m)
	require.NoError(t, err)
	assert.Equal(t, c.Message, got.Message)
}

func TestResultRoundTrip(t *testing.T) {
	r := Result{TaskID: 42, ReturnStatus: 0, StdoutSize: 128, ElapsedUsec: 99000}
	m, err := ParseLine(EncodeResult(r).Encode())
	require.NoError(t, err)
	got, err := DecodeResult(m)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestTaskBlockRoundTrip(t *testing.T) {
	t1 := TaskBlock{
		TaskID:   7,
		Cmd:      "echo hello world",
		Inputs:   []string{"in1", "in2"},
		Outputs:  []string{"out1"},
		Env:      map[string]string{"FOO": "bar"},
		Cores:    2.5,
		MemoryMB: 1024,
		DiskMB:   2048,
		GPUs:     0,
		WallTime: 60,
		Category: "default",
	}
	lines := EncodeTaskBlock(t1)
	require.Equal(t, "task 7", lines[0])
	require.Equal(t, VerbEnd, lines[len(lines)-1])

	got, err := DecodeTaskBlock(7, lines[1:])
	require.NoError(t, err)
	assert.Equal(t, t1.Cmd, got.Cmd)
	assert.Equal(t, t1.Inputs, got.Inputs)
	assert.Equal(t, t1.Outputs, got.Outputs)
	assert.Equal(t, t1.Env, got.Env)
	assert.Equal(t, t1.Cores, got.Cores)
	assert.Equal(t, t1.MemoryMB, got.MemoryMB)
	assert.Equal(t, t1.Category, got.Category)
}

func TestTaskBlockCmdRoundTripsLiteralUnderscore(t *testing.T) {
	t1 := TaskBlock{TaskID: 9, Cmd: "run_job.sh --out=a b"}
	lines := EncodeTaskBlock(t1)
	got, err := DecodeTaskBlock(9, lines[1:])
	require.NoError(t, err)
	assert.Equal(t, t1.Cmd, got.Cmd)
}

func TestTaskBlockEnvRoundTripsValueWithSpace(t *testing.T) {
	t1 := TaskBlock{TaskID: 11, Cmd: "echo hi", Env: map[string]string{"PATH_EXTRA": "foo bar"}}
	lines := EncodeTaskBlock(t1)
	got, err := DecodeTaskBlock(11, lines[1:])
	require.NoError(t, err)
	assert.Equal(t, "foo bar", got.Env["PATH_EXTRA"])
}

func TestPutCmdRoundTripsLiteralUnderscore(t *testing.T) {
	p := PutCmd{CacheName: "obj", ShellTemplate: "gen_output.sh %% out_file", Size: 10, Mode: 0644}
	m, err := ParseLine(EncodePutCmd(p).Encode())
	require.NoError(t, err)
	got, err := DecodePutCmd(m)
	require.NoError(t, err)
	assert.Equal(t, p.ShellTemplate, got.ShellTemplate)
}

func TestParseLineRejectsEmpty(t *testing.T) {
	_, err := ParseLine("")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeTaskBlockRejectsUnknownAttribute(t *testing.T) {
	_, err := DecodeTaskBlock(1, []string{"bogus thing", "end"})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeTaskBlockRequiresEnd(t *testing.T) {
	_, err := DecodeTaskBlock(1, []string{"cmd echo"})
	assert.ErrorIs(t, err, ErrProtocol)
}
