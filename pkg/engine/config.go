// pkg/engine/config.go

package engine

import (
	"time"

	"TierCtx/pkg/plan"
)

// Config of one tiered context session. Tier byte budgets come from
// hardware telemetry; the engine only consumes the numbers.
type Config struct {
	// Tiers are the fast (always resident) tiers, fastest first.
	Tiers []plan.TierBudget
	// PersistentPath selects the slow tier's backing medium; empty
	// disables the tier entirely.
	PersistentPath string
	// PersistentBytes is the byte budget of the persistent tier.
	PersistentBytes uint64

	BytesPerToken       uint64
	TotalCapacityTokens uint64

	ChunkSizeTokens       int
	MaxCachedChunks       int
	PrefetchWindowChunks  int
	MaxParallelOperations int
	Compression           string
	CompressionLevel      int // 0 fastest .. 9 smallest

	// optional hardening of the persistent medium
	EncryptKeyPath    string
	EncryptPassphrase string
	UploadLimit       int64 // bytes per second, 0 = unlimited
	DownloadLimit     int64

	// OnEvent receives degradation warnings and background errors.
	OnEvent func(Event)
}

func (c Config) withDefaults() Config {
	if c.ChunkSizeTokens == 0 {
		c.ChunkSizeTokens = 4096
	}
	if c.MaxCachedChunks == 0 {
		c.MaxCachedChunks = 16
	}
	if c.PrefetchWindowChunks == 0 {
		c.PrefetchWindowChunks = 2
	}
	if c.MaxParallelOperations == 0 {
		c.MaxParallelOperations = 4
	}
	if c.Compression == "" {
		c.Compression = "zstd"
	}
	if c.PersistentPath != "" && c.PersistentBytes == 0 {
		c.PersistentBytes = 64 << 30
	}
	return c
}

// Event is a discrete warning or error surfaced by the engine; status
// queries themselves always succeed.
type Event struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

const (
	EvCapacityShortfall = "capacity-shortfall"
	EvTierDegraded      = "tier-degraded"
	EvPersistFailed     = "persist-failed"
)
