package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeated many times to compress well")
	compressed, err := CompressBytes(data)
	require.NoError(t, err)
	assert.NotEqual(t, data, compressed)

	got, err := DecompressBytes(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
