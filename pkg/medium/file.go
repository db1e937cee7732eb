// pkg/medium/file.go

package medium

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type fileMedium struct {
	root string
}

func newFileMedium(root string) (Medium, error) {
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return &fileMedium{root}, nil
}

func (m *fileMedium) String() string {
	return "file://" + m.root
}

func (m *fileMedium) path(key string) string {
	return filepath.Join(m.root, key)
}

func (m *fileMedium) Create() error {
	return os.MkdirAll(m.root, 0755)
}

func (m *fileMedium) Get(key string, off, limit int64) (io.ReadCloser, error) {
	f, err := os.Open(m.path(key))
	if err != nil {
		return nil, err
	}
	if off > 0 {
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	if limit > 0 {
		return &sectionReader{io.LimitReader(f, limit), f}, nil
	}
	return f, nil
}

type sectionReader struct {
	io.Reader
	f *os.File
}

func (r *sectionReader) Close() error {
	return r.f.Close()
}

// Put writes the blob to a temporary file and renames it into place, so a
// reader never observes a half-written chunk.
func (m *fileMedium) Put(key string, in io.Reader) error {
	p := m.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", p, os.Getpid())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, in)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p)
}

func (m *fileMedium) Delete(key string) error {
	return os.Remove(m.path(key))
}

// List returns the keys starting with prefix. Only keys within the
// directory named by the prefix are reported; blobs are stored flat under
// their subdirectory so this covers every chunk key.
func (m *fileMedium) List(prefix string) ([]string, error) {
	dir, base := filepath.Split(prefix)
	entries, err := os.ReadDir(filepath.Join(m.root, dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base) {
			continue
		}
		keys = append(keys, dir+e.Name())
	}
	return keys, nil
}
