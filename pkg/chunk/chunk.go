// pkg/chunk/chunk.go

package chunk

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TierCtx/pkg/utils"
)

var logger = utils.GetLogger("tierctx")

// slotBytes is the serialized width of one token slot.
const slotBytes = 4

// Chunk is a fixed window of consecutive token positions, the unit of
// persistence and caching. Untouched slots read as zero. A chunk is
// dirty when its payload changed since the last successful persist.
type Chunk struct {
	sync.Mutex
	Index uint64

	data  []int32
	dirty bool
	gen   uint64 // bumped by every patch, guards dirty-clearing
	atime int64  // unix nanos, atomic
}

func newChunk(idx uint64, size int) *Chunk {
	return &Chunk{Index: idx, data: make([]int32, size), atime: time.Now().UnixNano()}
}

// Key returns the blob name for a chunk index. Existence of the blob is
// the only manifest of the chunk.
func Key(idx uint64) string {
	return fmt.Sprintf("chunks/chunk_%d.bin", idx)
}

func (c *Chunk) touch() {
	atomic.StoreInt64(&c.atime, time.Now().UnixNano())
}

func (c *Chunk) accessed() int64 {
	return atomic.LoadInt64(&c.atime)
}

func (c *Chunk) patch(off int, tokens []int32) {
	c.Lock()
	copy(c.data[off:], tokens)
	c.dirty = true
	c.gen++
	c.Unlock()
	c.touch()
}

func (c *Chunk) copyData() []int32 {
	c.Lock()
	out := make([]int32, len(c.data))
	copy(out, c.data)
	c.Unlock()
	c.touch()
	return out
}

func (c *Chunk) isDirty() bool {
	c.Lock()
	defer c.Unlock()
	return c.dirty
}

// encode serializes the payload into p (little endian, one 4-byte slot
// per token) and returns the generation it captured.
func (c *Chunk) encode(p *Page) uint64 {
	c.Lock()
	defer c.Unlock()
	for i, v := range c.data {
		binary.LittleEndian.PutUint32(p.Data[i*slotBytes:], uint32(v))
	}
	return c.gen
}

// clearDirty marks the chunk clean, unless it was patched again after
// the given generation was captured.
func (c *Chunk) clearDirty(gen uint64) {
	c.Lock()
	if c.gen == gen {
		c.dirty = false
	}
	c.Unlock()
}

func decodeChunk(idx uint64, raw []byte) *Chunk {
	c := newChunk(idx, len(raw)/slotBytes)
	for i := range c.data {
		c.data[i] = int32(binary.LittleEndian.Uint32(raw[i*slotBytes:]))
	}
	return c
}
