// Package cache implements the hot tier of the memory engine: an embedded
// KV store (bbolt) fronted by a sharded in-memory index with adaptive TTL,
// hybrid LRU/LFU eviction, and memory-pressure-driven shrinking. The cache
// is never authoritative; everything in it can be rebuilt from the durable
// tier.
package cache

import "time"

// Config tunes the adaptive cache.
type Config struct {
	// MaxSize bounds the number of cached entries
	MaxSize int
	// DefaultTTL is assigned to new entries
	DefaultTTL time.Duration
	// MinTTL and MaxTTL clamp adapted TTLs
	MinTTL time.Duration
	MaxTTL time.Duration
	// HotThreshold is the access count at which TTL grows
	HotThreshold int
	// ColdThreshold is the access count at or below which TTL shrinks
	ColdThreshold int
	// AdaptationRate is the multiplicative TTL step, in [0, 1]
	AdaptationRate float64
	// CleanupInterval is the period of the background expiry sweep
	CleanupInterval time.Duration
	// EnableBackgroundCleanup turns the sweep goroutine on
	EnableBackgroundCleanup bool
	// MemoryThreshold is the heap fraction that starts raising pressure
	MemoryThreshold float64
	// HeapSizeThreshold is the heap size in bytes that counts as full
	HeapSizeThreshold uint64
	// LRUWeight balances LRU against LFU in the hybrid score, in [0, 1]
	LRUWeight float64
	// TimeDecayFactor shrinks access counts every DecayInterval
	TimeDecayFactor float64
	// DecayInterval is the period of access-count decay
	DecayInterval time.Duration
	// MinItemsToKeep survives even critical memory pressure
	MinItemsToKeep int
	// PressureMultiplier scales the per-insert eviction batch under pressure
	PressureMultiplier int
	// ShardCount splits the index to keep write locks short; must be > 0
	ShardCount int
}

// DefaultConfig returns the standard cache settings.
func DefaultConfig() Config {
	return Config{
		MaxSize:                 10000,
		DefaultTTL:              15 * time.Minute,
		MinTTL:                  time.Minute,
		MaxTTL:                  2 * time.Hour,
		HotThreshold:            5,
		ColdThreshold:           1,
		AdaptationRate:          0.2,
		CleanupInterval:         time.Minute,
		EnableBackgroundCleanup: true,
		MemoryThreshold:         0.8,
		HeapSizeThreshold:       100 * 1024 * 1024,
		LRUWeight:               0.5,
		TimeDecayFactor:         0.1,
		DecayInterval:           time.Minute,
		MinItemsToKeep:          100,
		PressureMultiplier:      4,
		ShardCount:              16,
	}
}

// PressureLevel classifies memory pressure.
type PressureLevel int32

const (
	// PressureNormal means no pressure
	PressureNormal PressureLevel = iota
	// PressureLow means slightly elevated memory usage
	PressureLow
	// PressureHigh means active eviction territory
	PressureHigh
	// PressureCritical means aggressive eviction down to MinItemsToKeep
	PressureCritical
)

// String returns the level name.
func (p PressureLevel) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "normal"
	}
}
