// Package mem provides a latency-only L1 data cache model built on Akita
// cache components. It tracks tags and replacement state to decide hit or
// miss, but moves no data: the timing driver only needs the cycle cost of
// each access.
package mem

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Config holds cache geometry and timing parameters.
type Config struct {
	// Size in bytes.
	Size int
	// Associativity (number of ways).
	Associativity int
	// BlockSize in bytes (cache line size).
	BlockSize int
	// HitLatency in cycles.
	HitLatency uint64
	// MissLatency in cycles, including the fill from the next level.
	MissLatency uint64
}

// DefaultL1DConfig returns an Apple M2 performance-core L1D configuration:
// 128KB, 8-way, 64B lines, 3-cycle load-to-use latency.
func DefaultL1DConfig() Config {
	return Config{
		Size:          128 * 1024,
		Associativity: 8,
		BlockSize:     64,
		HitLatency:    3,
		MissLatency:   12,
	}
}

// Statistics holds access counters.
type Statistics struct {
	Accesses uint64
	Hits     uint64
	Misses   uint64
}

// Cache is a tag-only cache using the Akita cache directory for lookup and
// LRU replacement.
type Cache struct {
	config    Config
	directory *akitacache.DirectoryImpl
	stats     Statistics
}

// New creates a cache with the given configuration.
func New(config Config) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config { return c.config }

// Stats returns the access counters.
func (c *Cache) Stats() Statistics { return c.stats }

// Access touches the cache line covering addr and returns the access latency
// and whether it hit. A miss fills the line, evicting the LRU victim.
func (c *Cache) Access(addr uint64) (latency uint64, hit bool) {
	c.stats.Accesses++

	blockAddr := (addr / uint64(c.config.BlockSize)) * uint64(c.config.BlockSize)

	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		return c.config.HitLatency, true
	}

	c.stats.Misses++

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return c.config.MissLatency, false
	}
	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = false
	c.directory.Visit(victim)

	return c.config.MissLatency, false
}

// Reset invalidates all lines and clears the counters.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}
