// Package cache provides data cache modeling using Akita cache components.
//
// The cache keeps tags and line state only. Data always lives in the
// emulator's memory, so the model decides hits, misses and evictions but
// never returns values.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Config holds cache configuration parameters.
type Config struct {
	// Size in bytes
	Size int
	// Associativity (number of ways)
	Associativity int
	// BlockSize in bytes (cache line size)
	BlockSize int
	// HitLatency in cycles
	HitLatency uint64
	// MissLatency in cycles (includes memory access time)
	MissLatency uint64
}

// DefaultL1DConfig returns default configuration for the L1 data cache:
// 48KB, 12-way, 64B lines, 4-cycle load-to-use latency.
func DefaultL1DConfig() Config {
	return Config{
		Size:          48 * 1024, // 48KB
		Associativity: 12,        // 12-way
		BlockSize:     64,        // 64B cache line
		HitLatency:    4,
		MissLatency:   150,
	}
}

// NumSets returns the number of sets.
func (c Config) NumSets() int {
	return c.Size / (c.Associativity * c.BlockSize)
}

// AccessResult contains the result of a cache access.
type AccessResult struct {
	// Hit indicates whether every line touched by the access was cached.
	Hit bool
	// Latency is the number of cycles this access takes.
	Latency uint64
	// Lines is the number of cache lines the access touched.
	Lines int
	// Evicted is true if a valid block was evicted.
	Evicted bool
	// EvictedAddr is the address of the last evicted block.
	EvictedAddr uint64
	// Writeback is true if an evicted block was dirty.
	Writeback bool
}

// Cache represents a cache level using an Akita tag directory.
type Cache struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	stats Statistics
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// HitRate returns hits over all line accesses, or 0 before any access.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// New creates a new cache with the given configuration.
func New(config Config) *Cache {
	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			config.NumSets(),
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

func (c *Cache) blockAddr(addr uint64) uint64 {
	return addr / uint64(c.config.BlockSize) * uint64(c.config.BlockSize)
}

// Read performs a read of size bytes at addr. Accesses that straddle a line
// boundary touch every line they cover; the latency is the slowest line.
func (c *Cache) Read(addr uint64, size int) AccessResult {
	c.stats.Reads++
	return c.access(addr, size, false)
}

// Write performs a write of size bytes at addr. Uses write-allocate: a
// missing line is filled, then marked dirty.
func (c *Cache) Write(addr uint64, size int) AccessResult {
	c.stats.Writes++
	return c.access(addr, size, true)
}

func (c *Cache) access(addr uint64, size int, isWrite bool) AccessResult {
	if size < 1 {
		size = 1
	}

	result := AccessResult{Hit: true}

	first := c.blockAddr(addr)
	last := c.blockAddr(addr + uint64(size) - 1)
	for line := first; ; line += uint64(c.config.BlockSize) {
		c.accessLine(line, isWrite, &result)
		result.Lines++
		if line >= last {
			break
		}
	}

	return result
}

func (c *Cache) accessLine(blockAddr uint64, isWrite bool, result *AccessResult) {
	block := c.directory.Lookup(0, blockAddr) // PID=0 for now

	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block) // Update LRU
		if isWrite {
			block.IsDirty = true
		}
		result.Latency = max(result.Latency, c.config.HitLatency)
		return
	}

	c.stats.Misses++
	result.Hit = false
	result.Latency = max(result.Latency, c.config.MissLatency)

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return
	}

	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag // Tag stores block-aligned address

		if victim.IsDirty {
			c.stats.Writebacks++
			result.Writeback = true
		}
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = isWrite

	c.directory.Visit(victim) // Update LRU
}

// Contains reports whether the line holding addr is cached.
func (c *Cache) Contains(addr uint64) bool {
	block := c.directory.Lookup(0, c.blockAddr(addr))
	return block != nil && block.IsValid
}

// Invalidate marks a cache line as invalid.
func (c *Cache) Invalidate(addr uint64) {
	block := c.directory.Lookup(0, c.blockAddr(addr))
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Flush writes back all dirty blocks and invalidates them.
func (c *Cache) Flush() {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				c.stats.Writebacks++
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
}

// Reset invalidates all cache lines without writeback.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}
