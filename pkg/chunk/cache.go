// pkg/chunk/cache.go

package chunk

import (
	"sort"
	"sync"
	"time"
)

// Cache is the bounded pool of resident chunks. Eviction is strict
// least-recently-accessed; a dirty victim is handed to the persist path
// before it is dropped, so unpersisted writes are never discarded.
type Cache struct {
	sync.Mutex
	capacity int
	chunks   map[uint64]*Chunk

	// persist writes a dirty chunk out synchronously during eviction.
	persist func(*Chunk) error
}

func newCache(capacity int, persist func(*Chunk) error) *Cache {
	return &Cache{
		capacity: capacity,
		chunks:   make(map[uint64]*Chunk),
		persist:  persist,
	}
}

func (c *Cache) get(idx uint64) *Chunk {
	c.Lock()
	defer c.Unlock()
	if ch, ok := c.chunks[idx]; ok {
		ch.touch()
		return ch
	}
	return nil
}

func (c *Cache) contains(idx uint64) bool {
	c.Lock()
	defer c.Unlock()
	_, ok := c.chunks[idx]
	return ok
}

func (c *Cache) insert(ch *Chunk) {
	c.Lock()
	defer c.Unlock()
	if _, ok := c.chunks[ch.Index]; ok {
		return
	}
	c.chunks[ch.Index] = ch
	if len(c.chunks) > c.capacity {
		c.cleanup()
	}
}

// locked. Holding the cache lock across the eviction decision and the
// synchronous persist keeps an evicting chunk from racing a concurrent
// load of the same index.
func (c *Cache) cleanup() {
	victims := make([]*Chunk, 0, len(c.chunks))
	for _, ch := range c.chunks {
		victims = append(victims, ch)
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].accessed() < victims[j].accessed()
	})
	for _, ch := range victims {
		if len(c.chunks) <= c.capacity {
			return
		}
		if ch.isDirty() {
			if err := c.persist(ch); err != nil {
				// keep it resident, retried on the next eviction or flush
				logger.Errorf("persist chunk %d before eviction: %s", ch.Index, err)
				continue
			}
		}
		delete(c.chunks, ch.Index)
		logger.Debugf("evict chunk %d from cache, age: %s", ch.Index, time.Since(time.Unix(0, ch.accessed())))
	}
}

func (c *Cache) dirtyChunks() []*Chunk {
	c.Lock()
	defer c.Unlock()
	var out []*Chunk
	for _, ch := range c.chunks {
		if ch.isDirty() {
			out = append(out, ch)
		}
	}
	return out
}

func (c *Cache) drop() {
	c.Lock()
	c.chunks = make(map[uint64]*Chunk)
	c.Unlock()
}

func (c *Cache) stats() (cached, dirty int) {
	c.Lock()
	defer c.Unlock()
	for _, ch := range c.chunks {
		if ch.isDirty() {
			dirty++
		}
	}
	return len(c.chunks), dirty
}
