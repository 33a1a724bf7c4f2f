// Package idgenerator hands out monotonically increasing ids.
package idgenerator

import "sync/atomic"

// IdGenerator generates monotonically increasing int IDs in a concurrency-safe
// manner. The first call to Id returns the start value given at construction.
type IdGenerator struct {
	next atomic.Int64
}

// NewIdGenerator creates an IdGenerator whose first Id is startValue. The
// generator is safe for concurrent use.
//
// Parameters:
//   - startValue: The first id handed out
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue int) *IdGenerator {
	gen := &IdGenerator{}
	gen.next.Store(int64(startValue))
	return gen
}

// Id returns the next unused id. Ids are never reused for the lifetime of the
// generator.
func (g *IdGenerator) Id() int {
	return int(g.next.Add(1) - 1)
}
