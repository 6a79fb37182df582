package lsq

// AliasOracle decides whether a dispatched access can be proven independent
// of every access recorded by an in-flight memory group. NoAlias returning
// true means "definitely no aliasing"; false means aliasing must be assumed
// and an ordering edge is required. The access is nil when the instruction
// carries no precise address metadata.
//
// The oracle is injected at construction so alternative models can replace
// the range comparison without touching the dispatch rules.
type AliasOracle interface {
	NoAlias(g *MemoryGroup, access *MemoryAccess) bool
}

// RangeOracle proves independence by comparing extended address ranges. When
// no precise descriptor is available it falls back to the configured
// AssumeNoAlias policy.
type RangeOracle struct {
	// AssumeNoAlias is the verdict used when no precise address metadata
	// exists. False means aliasing is assumed conservatively.
	AssumeNoAlias bool
}

// NoAlias reports whether the access provably does not overlap the group.
func (o RangeOracle) NoAlias(g *MemoryGroup, access *MemoryAccess) bool {
	if access != nil {
		return !g.IsMemAccessAlias(access)
	}
	return o.AssumeNoAlias
}

// AssumeAliased treats every pair of accesses as overlapping. Every edge it
// influences becomes a hard ordering dependency.
type AssumeAliased struct{}

// NoAlias always reports false.
func (AssumeAliased) NoAlias(*MemoryGroup, *MemoryAccess) bool { return false }

// AssumeIndependent treats every pair of accesses as provably disjoint.
// Useful for measuring the cost of memory ordering in isolation.
type AssumeIndependent struct{}

// NoAlias always reports true.
func (AssumeIndependent) NoAlias(*MemoryGroup, *MemoryAccess) bool { return true }
