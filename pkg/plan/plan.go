// pkg/plan/plan.go

package plan

// The planner turns raw per-tier byte budgets (fed in from hardware
// telemetry) into token capacities and handoff boundaries. It is pure:
// the same inputs always produce the same plan.

// ReserveFactor keeps headroom in every tier for non-context overhead
// (activations, buffers, allocator slack).
const ReserveFactor = 0.9

// TierBudget is the available byte budget of one hardware tier,
// fastest first.
type TierBudget struct {
	Name           string
	AvailableBytes uint64
}

// Tier is one planned tier: it owns token positions
// [StartToken, StartToken+Tokens).
type Tier struct {
	Name       string `json:"name"`
	StartToken uint64 `json:"startToken"`
	Tokens     uint64 `json:"tokens"`
}

// Plan partitions the token range [0, TotalTokens) across tiers.
type Plan struct {
	Tiers       []Tier `json:"tiers"`
	TotalTokens uint64 `json:"totalTokens"`
	Requested   uint64 `json:"requested"`
	Shortfall   bool   `json:"shortfall"`
}

// Build computes a Plan for the requested token count. Tiers are consumed
// strictly in the given order; tiers with no available bytes are excluded
// entirely. When the budgets cannot cover the request, TotalTokens is
// capped to what fits and Shortfall is set.
func Build(budgets []TierBudget, bytesPerToken uint64, requested uint64) Plan {
	p := Plan{Requested: requested}
	if bytesPerToken == 0 {
		p.Shortfall = requested > 0
		return p
	}
	var start uint64
	for _, b := range budgets {
		if b.AvailableBytes == 0 {
			continue
		}
		tokens := uint64(float64(b.AvailableBytes) * ReserveFactor / float64(bytesPerToken))
		if start+tokens > requested {
			tokens = requested - start
		}
		if tokens == 0 {
			continue
		}
		p.Tiers = append(p.Tiers, Tier{Name: b.Name, StartToken: start, Tokens: tokens})
		start += tokens
		if start >= requested {
			break
		}
	}
	p.TotalTokens = start
	p.Shortfall = start < requested
	return p
}

// Boundary returns the first token position owned by the named tier, and
// whether the tier is part of the plan.
func (p *Plan) Boundary(name string) (uint64, bool) {
	for _, t := range p.Tiers {
		if t.Name == name {
			return t.StartToken, true
		}
	}
	return 0, false
}

// TokensBefore returns how many tokens are planned ahead of the named
// tier; if the tier is absent it returns TotalTokens.
func (p *Plan) TokensBefore(name string) uint64 {
	if start, ok := p.Boundary(name); ok {
		return start
	}
	return p.TotalTokens
}
