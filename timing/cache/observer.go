package cache

import (
	"github.com/sarchlab/x64sim/emu"
)

// Observer feeds the data accesses of an emulator into a cache. It
// implements emu.MemoryObserver.
type Observer struct {
	cache *Cache

	pending uint64
	misses  uint64
}

var _ emu.MemoryObserver = (*Observer)(nil)

// NewObserver creates an observer that drives c.
func NewObserver(c *Cache) *Observer {
	return &Observer{cache: c}
}

// Cache returns the observed cache.
func (o *Observer) Cache() *Cache {
	return o.cache
}

// MemoryRead records a data read.
func (o *Observer) MemoryRead(addr uint64, data []byte) {
	o.record(o.cache.Read(addr, len(data)))
}

// MemoryWrite records a data write.
func (o *Observer) MemoryWrite(addr uint64, data []byte) {
	o.record(o.cache.Write(addr, len(data)))
}

// AreaMapped does nothing. Mapping an area does not touch the cache.
func (o *Observer) AreaMapped(*emu.MemoryArea) {}

func (o *Observer) record(r AccessResult) {
	if r.Hit {
		return
	}

	o.misses++
	if r.Latency > o.cache.config.HitLatency {
		o.pending += r.Latency - o.cache.config.HitLatency
	}
}

// Drain returns the miss penalty accumulated since the last call, in cycles
// beyond the hit latency, and resets it.
func (o *Observer) Drain() uint64 {
	p := o.pending
	o.pending = 0
	return p
}

// Misses returns the number of accesses that missed in at least one line.
func (o *Observer) Misses() uint64 {
	return o.misses
}
