// pkg/compress/compress.go

package compress

import (
	"strings"

	"github.com/DataDog/zstd"
	lz4 "github.com/hungys/go-lz4"
	"github.com/pkg/errors"
)

// Compressor compresses chunk blobs before they hit the backing medium.
// Compress/Decompress write into dst and return the number of bytes
// produced; dst must be at least CompressBound(len(src)) for Compress,
// and the exact decoded size for Decompress.
type Compressor interface {
	Name() string
	CompressBound(l int) int
	Compress(dst, src []byte) (int, error)
	Decompress(dst, src []byte) (int, error)
}

// NewCompressor returns a compressor for the named algorithm (none, lz4,
// zstd), or nil if the algorithm is not supported.
func NewCompressor(algr string) Compressor {
	return NewCompressorWithLevel(algr, 3)
}

// NewCompressorWithLevel is NewCompressor with an effort level between 0
// (fastest) and 9 (smallest). Only zstd honors the level.
func NewCompressorWithLevel(algr string, level int) Compressor {
	switch strings.ToLower(algr) {
	case "none", "":
		return noOp{}
	case "lz4":
		return LZ4{}
	case "zstd":
		if level < 0 {
			level = 0
		} else if level > 9 {
			level = 9
		}
		return ZStandard{zstdLevel(level)}
	default:
		return nil
	}
}

// zstdLevel maps the 0-9 scale onto zstd's 1-19.
func zstdLevel(level int) int {
	return level*2 + 1
}

type noOp struct{}

func (n noOp) Name() string            { return "none" }
func (n noOp) CompressBound(l int) int { return l }
func (n noOp) Compress(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, errors.New("buffer too short")
	}
	copy(dst, src)
	return len(src), nil
}
func (n noOp) Decompress(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, errors.New("buffer too short")
	}
	copy(dst, src)
	return len(src), nil
}

type LZ4 struct{}

func (l LZ4) Name() string            { return "lz4" }
func (l LZ4) CompressBound(s int) int { return lz4.CompressBound(s) }
func (l LZ4) Compress(dst, src []byte) (int, error) {
	return lz4.CompressDefault(src, dst)
}
func (l LZ4) Decompress(dst, src []byte) (int, error) {
	return lz4.DecompressSafe(src, dst)
}

type ZStandard struct {
	level int
}

func (z ZStandard) Name() string            { return "zstd" }
func (z ZStandard) CompressBound(s int) int { return zstd.CompressBound(s) }

func (z ZStandard) Compress(dst, src []byte) (int, error) {
	d, err := zstd.CompressLevel(dst[:0], src, z.level)
	if err != nil {
		return 0, err
	}
	if len(d) > 0 && len(dst) > 0 && &d[0] != &dst[0] {
		return 0, errors.New("buffer too short")
	}
	return len(d), nil
}

func (z ZStandard) Decompress(dst, src []byte) (int, error) {
	d, err := zstd.Decompress(dst[:0], src)
	if err != nil {
		return 0, err
	}
	if len(d) > 0 && len(dst) > 0 && &d[0] != &dst[0] {
		return 0, errors.New("buffer too short")
	}
	return len(d), nil
}
