// pkg/engine/engine_test.go

package engine

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TierCtx/pkg/plan"
)

// 10 bytes per token with the 0.9 reserve makes byte budgets easy to
// express: 1000 tokens of fast tier needs 11112 bytes, rounded up here
// to keep the arithmetic obvious.
func fastTier(tokens uint64) []plan.TierBudget {
	bytes := tokens * 10 * 10 / 9
	if bytes*9/10/10 < tokens {
		bytes += 10
	}
	return []plan.TierBudget{{Name: "ram", AvailableBytes: bytes}}
}

func newTestEngine(t *testing.T, fastTokens uint64, total uint64, persistent bool, mut func(*Config)) *Engine {
	conf := Config{
		Tiers:                 fastTier(fastTokens),
		BytesPerToken:         10,
		TotalCapacityTokens:   total,
		ChunkSizeTokens:       64,
		MaxCachedChunks:       4,
		MaxParallelOperations: 2,
	}
	if persistent {
		conf.PersistentPath = t.TempDir()
		conf.PersistentBytes = 1 << 30
	}
	if mut != nil {
		mut(&conf)
	}
	e, err := New(conf)
	require.NoError(t, err)
	return e
}

func seq(start int32, n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = start + int32(i)
	}
	return out
}

func TestRoundTripWithinFastTier(t *testing.T) {
	e := newTestEngine(t, 1000, 2000, true, nil)
	ctx := context.Background()
	tokens := seq(1, 100)
	require.NoError(t, e.StoreTokens(ctx, tokens, 10))
	got, err := e.RetrieveTokens(ctx, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, tokens, got)
}

func TestRoundTripAcrossTierBoundary(t *testing.T) {
	e := newTestEngine(t, 1000, 4000, true, nil)
	ctx := context.Background()
	// spans resident buffer, the boundary at 1000, and several chunks
	tokens := seq(500, 700)
	require.NoError(t, e.StoreTokens(ctx, tokens, 900))
	got, err := e.RetrieveTokens(ctx, 900, 700)
	require.NoError(t, err)
	assert.Equal(t, tokens, got)
}

func TestRoundTripAcrossChunkBoundary(t *testing.T) {
	e := newTestEngine(t, 0, 4000, true, func(c *Config) {
		c.Tiers = nil // everything goes through the chunk store
	})
	ctx := context.Background()
	tokens := []int32{1, 2, 3}
	require.NoError(t, e.StoreTokens(ctx, tokens, 62)) // straddles chunks 0 and 1 (size 64)
	got, err := e.RetrieveTokens(ctx, 62, 3)
	require.NoError(t, err)
	assert.Equal(t, tokens, got)

	// the split must land position 62,63 in chunk 0 and 64 in chunk 1
	got, err = e.RetrieveTokens(ctx, 0, 65)
	require.NoError(t, err)
	require.Len(t, got, 65)
	for i := 0; i < 62; i++ {
		assert.Zero(t, got[i], "position %d", i)
	}
	assert.Equal(t, []int32{1, 2, 3}, got[62:])
}

func TestZeroFillGaps(t *testing.T) {
	e := newTestEngine(t, 100, 1000, true, nil)
	ctx := context.Background()
	require.NoError(t, e.StoreTokens(ctx, []int32{9}, 0))
	require.NoError(t, e.StoreTokens(ctx, []int32{7}, 500))
	got, err := e.RetrieveTokens(ctx, 0, 501)
	require.NoError(t, err)
	require.Len(t, got, 501)
	assert.Equal(t, int32(9), got[0])
	assert.Equal(t, int32(7), got[500])
	for i := 1; i < 500; i++ {
		require.Zero(t, got[i], "position %d", i)
	}
}

func TestIdempotentReRead(t *testing.T) {
	e := newTestEngine(t, 100, 1000, true, nil)
	ctx := context.Background()
	require.NoError(t, e.StoreTokens(ctx, seq(1, 300), 0))
	a, err := e.RetrieveTokens(ctx, 50, 200)
	require.NoError(t, err)
	b, err := e.RetrieveTokens(ctx, 50, 200)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestClampToStreamLength(t *testing.T) {
	e := newTestEngine(t, 100, 1000, true, nil)
	ctx := context.Background()
	require.NoError(t, e.StoreTokens(ctx, seq(1, 10), 0))

	got, err := e.RetrieveTokens(ctx, 5, 100)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	got, err = e.RetrieveTokens(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = e.RetrieveTokens(ctx, 5000, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDegradedWithoutPersistentTier(t *testing.T) {
	var events []Event
	e := newTestEngine(t, 100, 1000, false, func(c *Config) {
		c.OnEvent = func(ev Event) { events = append(events, ev) }
	})
	ctx := context.Background()

	// capacity realized is only the fast tier
	st := e.Status()
	assert.Equal(t, uint64(100), st.RealizedCapacity)
	assert.True(t, st.Shortfall)
	assert.Nil(t, st.Persistent)

	require.NoError(t, e.StoreTokens(ctx, seq(1, 50), 90))
	got, err := e.RetrieveTokens(ctx, 100, 40)
	require.NoError(t, err)
	require.Len(t, got, 40)
	for i, v := range got {
		assert.Zero(t, v, "position %d", 100+i)
	}
	// the resident part survives
	got, err = e.RetrieveTokens(ctx, 90, 10)
	require.NoError(t, err)
	assert.Equal(t, seq(1, 10), got)

	st = e.Status()
	assert.NotEmpty(t, st.Warnings)
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, EvTierDegraded)
}

func TestEvictionUnderRandomLoad(t *testing.T) {
	e := newTestEngine(t, 64, 4096, true, nil)
	ctx := context.Background()
	r := rand.New(rand.NewSource(7))
	written := make(map[uint64]int32)
	for i := 0; i < 300; i++ {
		pos := uint64(r.Intn(4000))
		v := r.Int31()
		require.NoError(t, e.StoreTokens(ctx, []int32{v}, pos))
		written[pos] = v
		if st := e.Status(); st.Persistent != nil {
			assert.LessOrEqual(t, st.Persistent.CachedChunks, st.Persistent.MaxChunks)
		}
	}
	for pos, v := range written {
		got, err := e.RetrieveTokens(ctx, pos, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, v, got[0], "position %d", pos)
	}
}

func TestReset(t *testing.T) {
	e := newTestEngine(t, 64, 1000, true, nil)
	ctx := context.Background()
	require.NoError(t, e.StoreTokens(ctx, seq(1, 200), 0))
	require.NoError(t, e.Flush(ctx))
	require.NoError(t, e.Reset(ctx))

	st := e.Status()
	assert.Zero(t, st.StreamLength)
	got, err := e.RetrieveTokens(ctx, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStatusTierDistribution(t *testing.T) {
	e := newTestEngine(t, 100, 1000, true, nil)
	ctx := context.Background()
	require.NoError(t, e.StoreTokens(ctx, seq(1, 250), 0))
	st := e.Status()
	require.Len(t, st.Tiers, 2)
	assert.Equal(t, "ram", st.Tiers[0].Name)
	assert.Equal(t, uint64(100), st.Tiers[0].Used)
	assert.Equal(t, PersistentTier, st.Tiers[1].Name)
	assert.Equal(t, uint64(100), st.Tiers[1].StartToken)
	assert.Equal(t, uint64(150), st.Tiers[1].Used)
	assert.Equal(t, uint64(250), st.StreamLength)
}

func TestSetPersistentPath(t *testing.T) {
	e := newTestEngine(t, 100, 1000, false, nil)
	ctx := context.Background()
	assert.True(t, e.Status().Shortfall)

	require.NoError(t, e.SetPersistentPath(ctx, t.TempDir()))
	st := e.Status()
	assert.False(t, st.Shortfall)
	assert.Equal(t, uint64(1000), st.RealizedCapacity)
	require.NotNil(t, st.Persistent)

	require.NoError(t, e.StoreTokens(ctx, seq(1, 100), 150))
	got, err := e.RetrieveTokens(ctx, 150, 100)
	require.NoError(t, err)
	assert.Equal(t, seq(1, 100), got)

	require.NoError(t, e.SetPersistentPath(ctx, ""))
	assert.Nil(t, e.Status().Persistent)
}
