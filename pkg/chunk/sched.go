// pkg/chunk/sched.go

package chunk

import (
	"sync"

	"TierCtx/pkg/utils"
)

type opKind uint8

const (
	opPersist opKind = iota
	opLoad
	opPrefetch
)

func (k opKind) String() string {
	switch k {
	case opPersist:
		return "persist"
	case opLoad:
		return "load"
	case opPrefetch:
		return "prefetch"
	}
	return "unknown"
}

// task is one queued unit of work on a single chunk.
type task struct {
	kind opKind
	idx  uint64
	run  func() error
	done chan error // nil for fire-and-forget tasks
}

// scheduler runs queued tasks with bounded parallelism. Tasks for the
// same chunk index run strictly in submission order; tasks for different
// chunks may share a batch. The queue drains cooperatively: the first
// enqueue after idleness spawns a drain goroutine, there is no standing
// worker.
type scheduler struct {
	sync.Mutex
	parallel int
	pending  map[uint64][]*task
	order    []uint64 // chunk indices, oldest pending first
	draining bool
	idle     *utils.Cond
}

func newScheduler(parallel int) *scheduler {
	s := &scheduler{
		parallel: parallel,
		pending:  make(map[uint64][]*task),
	}
	s.idle = utils.NewCond(s)
	return s
}

func (s *scheduler) enqueue(t *task) {
	s.Lock()
	if _, ok := s.pending[t.idx]; !ok {
		s.order = append(s.order, t.idx)
	}
	s.pending[t.idx] = append(s.pending[t.idx], t)
	if !s.draining {
		s.draining = true
		go s.drain()
	}
	s.Unlock()
}

// queuedFor reports whether a task for the chunk is still waiting to be
// picked (a task already running in the current batch does not count).
func (s *scheduler) queuedFor(idx uint64) bool {
	s.Lock()
	defer s.Unlock()
	return len(s.pending[idx]) > 0
}

func (s *scheduler) queueLength() int {
	s.Lock()
	defer s.Unlock()
	var n int
	for _, q := range s.pending {
		n += len(q)
	}
	return n
}

// waitIdle blocks until the queue is fully drained.
func (s *scheduler) waitIdle() {
	s.Lock()
	for s.draining {
		s.idle.Wait()
	}
	s.Unlock()
}

// drain processes the queue in batches of at most `parallel` tasks, one
// per distinct chunk, awaiting each batch before picking the next. That
// caps peak IO concurrency regardless of queue depth and preserves the
// per-chunk FIFO across batches.
func (s *scheduler) drain() {
	for {
		s.Lock()
		var batch []*task
		order := s.order[:0]
		for _, idx := range s.order {
			q := s.pending[idx]
			if len(q) == 0 {
				delete(s.pending, idx)
				continue
			}
			if len(batch) < s.parallel {
				batch = append(batch, q[0])
				q = q[1:]
				if len(q) == 0 {
					delete(s.pending, idx)
					continue
				}
				s.pending[idx] = q
			}
			order = append(order, idx)
		}
		s.order = order
		if len(batch) == 0 {
			s.draining = false
			s.idle.Broadcast()
			s.Unlock()
			return
		}
		s.Unlock()

		var wg sync.WaitGroup
		for _, t := range batch {
			wg.Add(1)
			go func(t *task) {
				defer wg.Done()
				err := t.run()
				if t.done != nil {
					t.done <- err
				} else if err != nil {
					// a failed background task must not stop the loop
					logger.Warnf("background %s of chunk %d: %s", t.kind, t.idx, err)
				}
			}(t)
		}
		wg.Wait()
	}
}
