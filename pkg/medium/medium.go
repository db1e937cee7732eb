// pkg/medium/medium.go

package medium

import (
	"io"
	"strings"

	"TierCtx/pkg/utils"
)

var logger = utils.GetLogger("tierctx")

// Medium is a backing store for chunk blobs. A blob is written atomically
// under its key; existence of a key is the only manifest. Implementations
// must be safe for concurrent use by one process.
type Medium interface {
	String() string
	Create() error
	Get(key string, off, limit int64) (io.ReadCloser, error)
	Put(key string, in io.Reader) error
	Delete(key string) error
	List(prefix string) ([]string, error)
}

// Open returns the medium for a persistent path. An empty path yields the
// no-op medium (nothing is ever stored); "noop://" does the same
// explicitly; "redis://" and "sftp://" select the remote media; anything
// else is a local directory.
func Open(uri string) (Medium, error) {
	switch {
	case uri == "" || uri == "noop://":
		return Noop(), nil
	case strings.HasPrefix(uri, "redis://"):
		return newRedisMedium(uri)
	case strings.HasPrefix(uri, "sftp://"):
		return newSftpMedium(uri)
	default:
		return newFileMedium(uri)
	}
}
