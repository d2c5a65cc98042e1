package wire

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeLinks(t *testing.T) (*Link, *Link) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return NewLink(a), NewLink(b)
}

func TestLinkReadLine(t *testing.T) {
	client, server := pipeLinks(t)
	deadline := time.Now().Add(time.Second)

	go func() {
		_ = client.Printf(deadline, "ready w1 4 8192 100000 0 /tmp")
	}()

	line, err := server.ReadLine(deadline)
	require.NoError(t, err)
	assert.Equal(t, "ready w1 4 8192 100000 0 /tmp", line)
}

func TestLinkReadLineRejectsLineOverMaxControlLine(t *testing.T) {
	client, server := pipeLinks(t)
	deadline := time.Now().Add(time.Second)

	oversized := make([]byte, MaxControlLine+100)
	for i := range oversized {
		oversized[i] = 'a'
	}
	go func() {
		_, _ = client.conn.Write(oversized)
		_, _ = client.conn.Write([]byte("\n"))
	}()

	_, err := server.ReadLine(deadline)
	assert.ErrorContains(t, err, "exceeds")
}

func TestLinkReadExact(t *testing.T) {
	client, server := pipeLinks(t)
	deadline := time.Now().Add(time.Second)
	payload := []byte("the quick brown fox")

	go func() {
		_ = client.WriteAll(payload, len(payload), deadline)
	}()

	buf := make([]byte, len(payload))
	err := server.ReadExact(buf, len(payload), deadline)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestLinkReadLineTimeout(t *testing.T) {
	_, server := pipeLinks(t)
	_, err := server.ReadLine(time.Now().Add(10 * time.Millisecond))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLinkPrintfRejectsOversizeLine(t *testing.T) {
	client, _ := pipeLinks(t)
	huge := make([]byte, MaxControlLine+1)
	for i := range huge {
		huge[i] = 'x'
	}
	err := client.Printf(time.Now().Add(time.Second), "%s", string(huge))
	assert.Error(t, err)
}
