// pkg/medium/redis.go

package medium

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// redisMedium keeps each blob in one string key. Useful when the "slow"
// tier is another machine's RAM rather than a local disk.
type redisMedium struct {
	rdb *redis.Client
	uri string
}

func newRedisMedium(uri string) (Medium, error) {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", uri)
	}
	rdb := redis.NewClient(opt)
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrapf(err, "ping %s", uri)
	}
	return &redisMedium{rdb, uri}, nil
}

func (m *redisMedium) String() string {
	return m.uri
}

func (m *redisMedium) Create() error {
	return nil
}

func (m *redisMedium) Get(key string, off, limit int64) (io.ReadCloser, error) {
	data, err := m.rdb.Get(context.Background(), key).Bytes()
	if err == redis.Nil {
		return nil, os.ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	l := int64(len(data))
	if off > l {
		return nil, io.EOF
	}
	if limit <= 0 || off+limit > l {
		limit = l - off
	}
	return io.NopCloser(bytes.NewReader(data[off : off+limit])), nil
}

func (m *redisMedium) Put(key string, in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return m.rdb.Set(context.Background(), key, data, 0).Err()
}

func (m *redisMedium) Delete(key string) error {
	return m.rdb.Del(context.Background(), key).Err()
}

func (m *redisMedium) List(prefix string) ([]string, error) {
	var keys []string
	iter := m.rdb.Scan(context.Background(), 0, prefix+"*", 1000).Iterator()
	for iter.Next(context.Background()) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}
