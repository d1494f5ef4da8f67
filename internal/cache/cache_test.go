package cache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "seq:abc:IC:1", KeySequence("abc", "IC", 1))
	assert.Equal(t, "seq:abc:*", KeySequencePattern("abc"))
}

func TestGzipRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"stop":"KL SENTRAL","cumulative_km":12.5}`), 200)

	compressed, err := gzipCompress(payload)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(payload))

	out, err := gzipDecompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestGzipDecompressRejectsPlainData(t *testing.T) {
	_, err := gzipDecompress([]byte("not gzip"))
	require.Error(t, err)
}
