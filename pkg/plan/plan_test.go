// pkg/plan/plan_test.go

package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 10000 bytes at 9 bytes/token and 0.9 reserve is exactly 1000 tokens.
const bpt = 9

func TestCapacityClamping(t *testing.T) {
	p := Build([]TierBudget{{"fast", 10000}}, bpt, 5000)
	assert.Equal(t, uint64(1000), p.TotalTokens)
	assert.True(t, p.Shortfall)
	require.Len(t, p.Tiers, 1)
	assert.Equal(t, uint64(0), p.Tiers[0].StartToken)

	p = Build([]TierBudget{{"fast", 10000}, {"slow", 100000}}, bpt, 5000)
	assert.Equal(t, uint64(5000), p.TotalTokens)
	assert.False(t, p.Shortfall)
	require.Len(t, p.Tiers, 2)
	boundary, ok := p.Boundary("slow")
	require.True(t, ok)
	assert.Equal(t, uint64(1000), boundary)
	assert.Equal(t, uint64(4000), p.Tiers[1].Tokens)
}

func TestUnavailableTierExcluded(t *testing.T) {
	p := Build([]TierBudget{{"fast", 10000}, {"slow", 0}}, bpt, 5000)
	require.Len(t, p.Tiers, 1)
	assert.Equal(t, "fast", p.Tiers[0].Name)
	assert.Equal(t, uint64(1000), p.TotalTokens)
	assert.True(t, p.Shortfall)
	assert.Equal(t, p.TotalTokens, p.TokensBefore("slow"))
}

func TestDeterministic(t *testing.T) {
	budgets := []TierBudget{{"gpu", 123456}, {"ram", 7891011}, {"nvme", 12131415}}
	a := Build(budgets, 64, 1<<20)
	b := Build(budgets, 64, 1<<20)
	assert.Equal(t, a, b)
}

func TestZeroRequest(t *testing.T) {
	p := Build([]TierBudget{{"fast", 10000}}, bpt, 0)
	assert.Equal(t, uint64(0), p.TotalTokens)
	assert.False(t, p.Shortfall)
	assert.Empty(t, p.Tiers)
}
