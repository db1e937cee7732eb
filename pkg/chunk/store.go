// pkg/chunk/store.go

package chunk

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"

	"TierCtx/pkg/compress"
	"TierCtx/pkg/medium"
	"TierCtx/pkg/utils"
)

// Config of a chunk store.
type Config struct {
	ChunkSize     int // tokens per chunk
	MaxCached     int // resident chunk limit
	Prefetch      int // chunks loaded ahead of the last access
	MaxParallel   int // peak concurrent chunk operations
	Compression   string
	CompressLevel int // 0 fastest .. 9 smallest
}

func (c Config) withDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = 4096
	}
	if c.MaxCached == 0 {
		c.MaxCached = 16
	}
	if c.MaxParallel == 0 {
		c.MaxParallel = 4
	}
	if c.Compression == "" {
		c.Compression = "zstd"
		if c.CompressLevel == 0 {
			c.CompressLevel = 1
		}
	}
	return c
}

// Store persists the token stream as fixed-size chunks, one compressed
// blob per chunk on the backing medium. Writers never block past
// enqueue; readers suspend until their chunk's queued operations are
// done.
type Store struct {
	conf  Config
	m     medium.Medium
	cache *Cache
	sched *scheduler
	compr compress.Compressor
	sf    Controller

	// OnError surfaces background persist failures to the owner; the
	// failing chunk stays dirty in cache either way.
	OnError func(error)
}

func NewStore(conf Config, m medium.Medium) (*Store, error) {
	conf = conf.withDefaults()
	compr := compress.NewCompressorWithLevel(conf.Compression, conf.CompressLevel)
	if compr == nil {
		return nil, errors.Errorf("unsupported compress algorithm: %s", conf.Compression)
	}
	s := &Store{conf: conf, m: m, compr: compr}
	s.cache = newCache(conf.MaxCached, func(c *Chunk) error {
		return s.report(s.writeChunk(c))
	})
	s.sched = newScheduler(conf.MaxParallel)
	return s, nil
}

func (s *Store) Medium() string {
	return s.m.String()
}

// Persist merges tokens into the chunk at the given in-chunk offset,
// creating the chunk zero-filled if it never existed, and queues a write
// of the full chunk. It returns as soon as the work is queued.
func (s *Store) Persist(ctx context.Context, idx uint64, off int, tokens []int32) error {
	if off < 0 || len(tokens) == 0 || off+len(tokens) > s.conf.ChunkSize {
		return errors.Errorf("invalid range for chunk %d: off %d len %d", idx, off, len(tokens))
	}
	if c := s.cache.get(idx); c != nil {
		c.patch(off, tokens)
		s.enqueuePersist(c)
		return nil
	}
	// not resident: the merge itself has to read-modify-write the full
	// chunk, so it runs on the queue, ordered with everything else
	// targeting this chunk
	ts := append([]int32(nil), tokens...)
	s.sched.enqueue(&task{kind: opPersist, idx: idx, run: func() error {
		c := s.fetch(idx)
		if c == nil {
			c = s.intern(newChunk(idx, s.conf.ChunkSize))
		}
		c.patch(off, ts)
		return s.report(s.writeChunk(c))
	}})
	return nil
}

func (s *Store) enqueuePersist(c *Chunk) {
	s.sched.enqueue(&task{kind: opPersist, idx: c.Index, run: func() error {
		if !c.isDirty() {
			// already written by an eviction or flush ahead of us
			return nil
		}
		return s.report(s.writeChunk(c))
	}})
}

// Load returns the chunk's payload, or nil if the chunk was never
// persisted. A cached chunk is served immediately; otherwise the caller
// suspends until the queued load (and everything queued ahead of it for
// this chunk) completes.
func (s *Store) Load(ctx context.Context, idx uint64) ([]int32, error) {
	if c := s.cache.get(idx); c != nil {
		return c.copyData(), nil
	}
	var c *Chunk
	var err error
	if s.sched.queuedFor(idx) {
		// something is queued for this chunk, possibly a write this
		// load has to observe: take a queue slot of our own instead of
		// collapsing into a read that may have started before the write
		c, err = s.loadQueued(ctx, idx)
	} else {
		c, err = s.sf.Execute(Key(idx), func() (*Chunk, error) {
			return s.loadQueued(ctx, idx)
		})
	}
	if err != nil || c == nil {
		return nil, err
	}
	return c.copyData(), nil
}

// loadQueued enqueues a load and waits for it, so it runs after every
// task already queued for the chunk.
func (s *Store) loadQueued(ctx context.Context, idx uint64) (*Chunk, error) {
	var loaded *Chunk
	t := &task{kind: opLoad, idx: idx, done: make(chan error, 1)}
	t.run = func() error {
		loaded = s.fetch(idx)
		return nil
	}
	s.sched.enqueue(t)
	select {
	case err := <-t.done:
		return loaded, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Prefetch queues opportunistic loads for the configured window of
// chunks starting at from, skipping anything already resident or
// already queued.
func (s *Store) Prefetch(from uint64) {
	for i := 0; i < s.conf.Prefetch; i++ {
		idx := from + uint64(i)
		if s.cache.contains(idx) || s.sched.queuedFor(idx) {
			continue
		}
		s.sched.enqueue(&task{kind: opPrefetch, idx: idx, run: func() error {
			s.fetch(idx)
			return nil
		}})
	}
}

// Flush queues a write for every dirty chunk and waits for completion.
func (s *Store) Flush(ctx context.Context) error {
	dirty := s.cache.dirtyChunks()
	if len(dirty) == 0 {
		return nil
	}
	done := make(chan error, len(dirty))
	for _, c := range dirty {
		s.sched.enqueue(&task{kind: opPersist, idx: c.Index, done: done, run: func() error {
			if !c.isDirty() {
				return nil
			}
			return s.report(s.writeChunk(c))
		}})
	}
	var first error
	for range dirty {
		select {
		case err := <-done:
			if err != nil && first == nil {
				first = err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return first
}

// DropAll waits out the queue, forgets every cached chunk and removes
// every blob from the medium.
func (s *Store) DropAll(ctx context.Context) error {
	s.sched.waitIdle()
	s.cache.drop()
	keys, err := s.m.List("chunks/chunk_")
	if err != nil {
		return errors.Wrap(err, "list chunks")
	}
	for _, key := range keys {
		if err := s.m.Delete(key); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "delete %s", key)
		}
	}
	return nil
}

// Stats of the in-memory side of the store.
type Stats struct {
	CachedChunks int   `json:"cachedChunks"`
	MaxChunks    int   `json:"maxChunks"`
	DirtyChunks  int   `json:"dirtyChunks"`
	QueuedOps    int   `json:"queuedOps"`
	OffHeapBytes int64 `json:"offHeapBytes"`
}

func (s *Store) Stats() Stats {
	cached, dirty := s.cache.stats()
	return Stats{
		CachedChunks: cached,
		MaxChunks:    s.conf.MaxCached,
		DirtyChunks:  dirty,
		QueuedOps:    s.sched.queueLength(),
		OffHeapBytes: utils.AllocMemory(),
	}
}

// fetch returns the resident chunk, reading it from the medium if
// needed; nil means the chunk was never persisted (or its blob is not
// readable, which the read path treats the same way).
func (s *Store) fetch(idx uint64) *Chunk {
	if c := s.cache.get(idx); c != nil {
		return c
	}
	c := s.readChunk(idx)
	if c == nil {
		return nil
	}
	return s.intern(c)
}

// intern inserts the chunk and returns the resident instance, which may
// be a chunk another path inserted first.
func (s *Store) intern(c *Chunk) *Chunk {
	s.cache.insert(c)
	if cc := s.cache.get(c.Index); cc != nil {
		return cc
	}
	return c
}

func (s *Store) writeChunk(c *Chunk) error {
	size := s.conf.ChunkSize * slotBytes
	raw := NewOffPage(size)
	defer raw.Release()
	gen := c.encode(raw)
	comp := NewOffPage(s.compr.CompressBound(size))
	defer comp.Release()
	n, err := s.compr.Compress(comp.Data, raw.Data)
	if err != nil {
		return errors.Wrapf(err, "compress chunk %d", c.Index)
	}
	blob := comp.Slice(0, n)
	defer blob.Release()
	r := NewPageReader(blob)
	defer r.Close()
	if err = s.m.Put(Key(c.Index), r); err != nil {
		return errors.Wrapf(err, "write chunk %d", c.Index)
	}
	c.clearDirty(gen)
	return nil
}

// readChunk loads and decodes a blob; any failure resolves to "never
// written" so a corrupt chunk cannot take down the read path.
func (s *Store) readChunk(idx uint64) *Chunk {
	r, err := s.m.Get(Key(idx), 0, -1)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("read chunk %d: %s", idx, err)
		}
		return nil
	}
	defer r.Close()
	blob, err := io.ReadAll(r)
	if err != nil {
		logger.Warnf("read chunk %d: %s", idx, err)
		return nil
	}
	size := s.conf.ChunkSize * slotBytes
	raw := NewOffPage(size)
	defer raw.Release()
	n, err := s.compr.Decompress(raw.Data, blob)
	if err != nil || n != size {
		logger.Warnf("chunk %d is corrupt (%d of %d bytes): %v", idx, n, size, err)
		return nil
	}
	return decodeChunk(idx, raw.Data)
}

func (s *Store) report(err error) error {
	if err != nil && s.OnError != nil {
		s.OnError(err)
	}
	return err
}
