// pkg/utils/alloc.go

package utils

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var used int64

// Alloc returns a byte slice of the given size allocated outside the Go
// heap, so cached chunk payloads don't contribute to GC pressure.
func Alloc(size int) []byte {
	zeros := powerOf2(size)
	b, err := unix.Mmap(-1, 0, 1<<zeros, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		logger.Fatalf("mmap %d bytes: %s", size, err)
	}
	atomic.AddInt64(&used, int64(1<<zeros))
	return b[:size]
}

// Free returns the memory to the OS. The slice must come from Alloc.
func Free(b []byte) {
	b = b[:cap(b)]
	if err := unix.Munmap(b); err != nil {
		logger.Fatalf("munmap %d bytes: %s", cap(b), err)
	}
	atomic.AddInt64(&used, -int64(cap(b)))
}

// AllocMemory returns the number of bytes currently allocated off heap.
func AllocMemory() int64 {
	return atomic.LoadInt64(&used)
}

func powerOf2(s int) uint {
	var bits uint
	var p = 1
	for p < s {
		bits++
		p *= 2
	}
	return bits
}
