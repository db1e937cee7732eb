// pkg/engine/status.go

package engine

import (
	"TierCtx/pkg/chunk"
	"TierCtx/pkg/plan"
)

// TierStatus is the token occupancy of one planned tier.
type TierStatus struct {
	Name       string `json:"name"`
	StartToken uint64 `json:"startToken"`
	Capacity   uint64 `json:"capacityTokens"`
	Used       uint64 `json:"usedTokens"`
}

// PersistentStatus reports the slow tier's medium and cache residency.
type PersistentStatus struct {
	Medium string `json:"medium"`
	chunk.Stats
}

// Status is a best-effort snapshot; querying it always succeeds, and
// degradations show up in Warnings/LastError instead of failures.
type Status struct {
	SessionID         string            `json:"sessionId"`
	StreamLength      uint64            `json:"streamLength"`
	RequestedCapacity uint64            `json:"requestedCapacity"`
	RealizedCapacity  uint64            `json:"realizedCapacity"`
	Shortfall         bool              `json:"shortfall"`
	Tiers             []TierStatus      `json:"tiers"`
	Persistent        *PersistentStatus `json:"persistent,omitempty"`
	Warnings          []string          `json:"warnings,omitempty"`
	LastError         string            `json:"lastError,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		SessionID:         e.sessionID,
		StreamLength:      e.length,
		RequestedCapacity: e.plan.Requested,
		RealizedCapacity:  e.plan.TotalTokens,
		Shortfall:         e.plan.Shortfall,
		Tiers:             tierStatus(e.plan, e.length),
	}
	store := e.store
	e.mu.Unlock()
	if store != nil {
		st.Persistent = &PersistentStatus{Medium: store.Medium(), Stats: store.Stats()}
	}
	e.evMu.Lock()
	st.Warnings = append([]string(nil), e.warnings...)
	st.LastError = e.lastError
	e.evMu.Unlock()
	return st
}

func tierStatus(p plan.Plan, length uint64) []TierStatus {
	out := make([]TierStatus, 0, len(p.Tiers))
	for _, t := range p.Tiers {
		used := uint64(0)
		if length > t.StartToken {
			used = length - t.StartToken
			if used > t.Tokens {
				used = t.Tokens
			}
		}
		out = append(out, TierStatus{Name: t.Name, StartToken: t.StartToken, Capacity: t.Tokens, Used: used})
	}
	return out
}
