// pkg/compress/compress_test.go

package compress

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoundTrip(t *testing.T, c Compressor, src []byte) {
	dst := make([]byte, c.CompressBound(len(src)))
	n, err := c.Compress(dst, src)
	require.NoError(t, err)
	back := make([]byte, len(src))
	m, err := c.Decompress(back, dst[:n])
	require.NoError(t, err)
	require.Equal(t, len(src), m)
	assert.Equal(t, src, back)
}

func TestRoundTrip(t *testing.T) {
	zeros := make([]byte, 16<<10)
	random := make([]byte, 16<<10)
	rand.New(rand.NewSource(1)).Read(random)
	repetitive := make([]byte, 16<<10)
	for i := range repetitive {
		repetitive[i] = byte(i % 31)
	}

	for _, algr := range []string{"none", "lz4", "zstd"} {
		for level := 0; level <= 9; level += 3 {
			c := NewCompressorWithLevel(algr, level)
			require.NotNil(t, c)
			testRoundTrip(t, c, zeros)
			testRoundTrip(t, c, random)
			testRoundTrip(t, c, repetitive)
		}
	}
}

func TestUnsupported(t *testing.T) {
	assert.Nil(t, NewCompressor("gzip2"))
	assert.NotNil(t, NewCompressor(""))
	assert.Equal(t, "zstd", NewCompressor("ZSTD").Name())
}
