// pkg/engine/engine.go

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"TierCtx/pkg/chunk"
	"TierCtx/pkg/medium"
	"TierCtx/pkg/plan"
	"TierCtx/pkg/utils"
)

var logger = utils.GetLogger("tierctx")

// PersistentTier is the name the planner uses for the chunked slow tier.
const PersistentTier = "persistent"

// Engine is the tiered token store for one context session. Tokens
// within the fast-tier capacity live in a plain resident buffer; the
// rest is chunked, compressed and paged through the chunk store. An
// engine is constructed explicitly and owns all of its state.
type Engine struct {
	mu        sync.Mutex
	conf      Config
	sessionID string

	plan     plan.Plan
	fastCap  uint64 // first token position owned by the persistent tier
	resident []int32
	length   uint64 // one past the highest position ever stored

	store *chunk.Store

	// warning/error bookkeeping has its own lock so emit can be called
	// from paths already holding mu
	evMu           sync.Mutex
	warnings       []string
	lastError      string
	degradedWarned bool
}

// New builds the tier plan and, when a persistent path is configured,
// initializes the chunk store against it. Failure to bring up the
// persistent tier degrades to fast-tier-only with a warning; it is not
// fatal.
func New(conf Config) (*Engine, error) {
	conf = conf.withDefaults()
	if conf.BytesPerToken == 0 {
		return nil, errors.New("bytesPerToken must be positive")
	}
	if conf.TotalCapacityTokens == 0 {
		return nil, errors.New("totalCapacityTokens must be positive")
	}
	e := &Engine{conf: conf, sessionID: uuid.New().String()}
	if err := e.initStore(conf.PersistentPath); err != nil {
		e.emit(EvTierDegraded, "persistent tier disabled: %s", err)
	}
	e.rebuildPlan()
	logger.Infof("session %s: %d tokens planned across %d tiers", e.sessionID, e.plan.TotalTokens, len(e.plan.Tiers))
	return e, nil
}

// initStore swaps the chunk store for one backed by the given path; an
// empty path removes the persistent tier.
func (e *Engine) initStore(path string) error {
	if path == "" {
		e.store = nil
		return nil
	}
	m, err := medium.Open(path)
	if err != nil {
		return err
	}
	if err = m.Create(); err != nil {
		return errors.Wrapf(err, "create %s", m)
	}
	if e.conf.EncryptKeyPath != "" {
		privKey, err := medium.ParseRsaPrivateKeyFromPath(e.conf.EncryptKeyPath, e.conf.EncryptPassphrase)
		if err != nil {
			return errors.Wrap(err, "load private key")
		}
		m = medium.NewEncrypted(m, medium.NewAESEncryptor(medium.NewRSAEncryptor(privKey)))
	}
	if e.conf.UploadLimit > 0 || e.conf.DownloadLimit > 0 {
		m = medium.NewLimited(m, e.conf.UploadLimit, e.conf.DownloadLimit)
	}
	store, err := chunk.NewStore(chunk.Config{
		ChunkSize:     e.conf.ChunkSizeTokens,
		MaxCached:     e.conf.MaxCachedChunks,
		Prefetch:      e.conf.PrefetchWindowChunks,
		MaxParallel:   e.conf.MaxParallelOperations,
		Compression:   e.conf.Compression,
		CompressLevel: e.conf.CompressionLevel,
	}, m)
	if err != nil {
		return err
	}
	store.OnError = func(err error) {
		e.emit(EvPersistFailed, "%s", err)
	}
	e.store = store
	return nil
}

func (e *Engine) rebuildPlan() {
	budgets := make([]plan.TierBudget, len(e.conf.Tiers), len(e.conf.Tiers)+1)
	copy(budgets, e.conf.Tiers)
	if e.store != nil {
		budgets = append(budgets, plan.TierBudget{Name: PersistentTier, AvailableBytes: e.conf.PersistentBytes})
	}
	e.plan = plan.Build(budgets, e.conf.BytesPerToken, e.conf.TotalCapacityTokens)
	e.fastCap = e.plan.TokensBefore(PersistentTier)
	if e.plan.Shortfall {
		e.emit(EvCapacityShortfall, "requested %d tokens, tiers can hold %d",
			e.plan.Requested, e.plan.TotalTokens)
	}
}

// SetPersistentPath reconfigures the slow tier at runtime. Dirty chunks
// of the old store are flushed first so nothing is lost in the swap.
func (e *Engine) SetPersistentPath(ctx context.Context, path string) error {
	e.mu.Lock()
	old := e.store
	e.mu.Unlock()
	if old != nil {
		if err := old.Flush(ctx); err != nil {
			return errors.Wrap(err, "flush before tier change")
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.initStore(path); err != nil {
		e.store = nil
		e.rebuildPlan()
		e.emit(EvTierDegraded, "persistent tier disabled: %s", err)
		return err
	}
	e.rebuildPlan()
	return nil
}

// StoreTokens writes tokens at the given stream position. The resident
// part is copied in place; the remainder is split into chunk-aligned
// sub-ranges and handed to the chunk store, which only queues the work.
// The call never waits on medium IO.
func (e *Engine) StoreTokens(ctx context.Context, tokens []int32, pos uint64) error {
	defer e.logit(time.Now(), "store (%d,%d)", pos, len(tokens))
	if len(tokens) == 0 {
		return nil
	}
	end := pos + uint64(len(tokens))

	e.mu.Lock()
	fastCap := e.fastCap
	total := e.plan.TotalTokens
	store := e.store
	if end > e.length {
		e.length = end
	}
	if pos < fastCap {
		fastEnd := end
		if fastEnd > fastCap {
			fastEnd = fastCap
		}
		if uint64(len(e.resident)) < fastEnd {
			grown := make([]int32, fastEnd)
			copy(grown, e.resident)
			e.resident = grown
		}
		copy(e.resident[pos:fastEnd], tokens[:fastEnd-pos])
	}
	e.mu.Unlock()

	if end <= fastCap {
		return nil
	}
	slowStart := pos
	if slowStart < fastCap {
		slowStart = fastCap
	}
	slowEnd := end
	if slowEnd > total {
		slowEnd = total
	}
	if store == nil || slowStart >= slowEnd {
		if end > total || store == nil {
			e.warnDegraded(total)
		}
		return nil
	}
	if end > total {
		e.warnDegraded(total)
	}

	csize := uint64(e.conf.ChunkSizeTokens)
	for p := slowStart; p < slowEnd; {
		idx := p / csize
		chunkEnd := (idx + 1) * csize
		if chunkEnd > slowEnd {
			chunkEnd = slowEnd
		}
		part := tokens[p-pos : chunkEnd-pos]
		if err := store.Persist(ctx, idx, int(p-idx*csize), part); err != nil {
			return err
		}
		p = chunkEnd
	}
	store.Prefetch((slowEnd-1)/csize + 1)
	return nil
}

// RetrieveTokens reads a token range. The result is clamped to the
// known stream length; positions that were never stored (or fell beyond
// a missing tier) read as zero. The caller suspends until every chunk
// backing the range has loaded.
func (e *Engine) RetrieveTokens(ctx context.Context, pos uint64, n int) ([]int32, error) {
	defer e.logit(time.Now(), "retrieve (%d,%d)", pos, n)

	e.mu.Lock()
	length := e.length
	fastCap := e.fastCap
	store := e.store
	if n <= 0 || pos >= length {
		e.mu.Unlock()
		return []int32{}, nil
	}
	end := pos + uint64(n)
	if end > length {
		end = length
	}
	out := make([]int32, end-pos)
	if pos < fastCap {
		resEnd := end
		if resEnd > fastCap {
			resEnd = fastCap
		}
		if resEnd > uint64(len(e.resident)) {
			resEnd = uint64(len(e.resident))
		}
		if resEnd > pos {
			copy(out, e.resident[pos:resEnd])
		}
	}
	e.mu.Unlock()

	if end <= fastCap || store == nil {
		return out, nil
	}

	slowStart := pos
	if slowStart < fastCap {
		slowStart = fastCap
	}
	csize := uint64(e.conf.ChunkSizeTokens)
	firstChunk := slowStart / csize
	lastChunk := (end - 1) / csize

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	for idx := firstChunk; idx <= lastChunk; idx++ {
		wg.Add(1)
		go func(idx uint64) {
			defer wg.Done()
			data, err := store.Load(ctx, idx)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}
			if data == nil {
				return // never persisted, zeros
			}
			ovStart := idx * csize
			if ovStart < slowStart {
				ovStart = slowStart
			}
			ovEnd := (idx + 1) * csize
			if ovEnd > end {
				ovEnd = end
			}
			copy(out[ovStart-pos:ovEnd-pos], data[ovStart-idx*csize:ovEnd-idx*csize])
		}(idx)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	store.Prefetch(lastChunk + 1)
	return out, nil
}

// Flush persists every dirty chunk and waits for completion.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Flush(ctx)
}

// Reset clears the resident buffer and drops all chunk state, in memory
// and on the backing medium. Used when starting a new context session.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	e.resident = nil
	e.length = 0
	store := e.store
	e.mu.Unlock()
	e.evMu.Lock()
	e.warnings = nil
	e.lastError = ""
	e.degradedWarned = false
	e.evMu.Unlock()
	if store == nil {
		return nil
	}
	return store.DropAll(ctx)
}

// Close flushes dirty state; the engine must not be used afterwards.
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return e.Flush(ctx)
}

// FillCache warms the chunk cache for a token range with the given
// worker count; progress (if not nil) is called once per chunk.
func (e *Engine) FillCache(ctx context.Context, pos uint64, n int, concurrent int, progress func()) error {
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()
	if store == nil || n <= 0 {
		return nil
	}
	if concurrent < 1 {
		concurrent = 1
	}
	csize := uint64(e.conf.ChunkSizeTokens)
	first := pos / csize
	last := (pos + uint64(n) - 1) / csize

	start := time.Now()
	todo := make(chan uint64, concurrent*2)
	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range todo {
				if _, err := store.Load(ctx, idx); err != nil {
					logger.Errorf("warmup chunk %d: %s", idx, err)
				}
				if progress != nil {
					progress()
				}
			}
		}()
	}
	for idx := first; idx <= last; idx++ {
		todo <- idx
	}
	close(todo)
	wg.Wait()
	logger.Infof("warmed up %d chunks in %s", last-first+1, time.Since(start))
	return nil
}

// ChunkCount returns how many chunks cover a token range, for warmup
// progress reporting.
func (e *Engine) ChunkCount(pos uint64, n int) int {
	if n <= 0 {
		return 0
	}
	csize := uint64(e.conf.ChunkSizeTokens)
	return int((pos+uint64(n)-1)/csize - pos/csize + 1)
}

func (e *Engine) warnDegraded(total uint64) {
	e.evMu.Lock()
	warned := e.degradedWarned
	e.degradedWarned = true
	e.evMu.Unlock()
	if !warned {
		e.emit(EvTierDegraded, "tokens beyond position %d are dropped: no tier can hold them", total)
	}
}

// emit records a warning/error and forwards it to the configured event
// callback.
func (e *Engine) emit(kind, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Warnf("%s: %s", kind, msg)
	e.evMu.Lock()
	if kind == EvPersistFailed {
		e.lastError = msg
	}
	if len(e.warnings) < 100 {
		e.warnings = append(e.warnings, fmt.Sprintf("%s: %s", kind, msg))
	}
	e.evMu.Unlock()
	if cb := e.conf.OnEvent; cb != nil {
		cb(Event{Kind: kind, Message: msg, Time: time.Now()})
	}
}
