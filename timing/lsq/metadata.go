package lsq

// MetadataRegistry maps instruction metadata tokens to precise memory access
// descriptors. The registry is populated by whatever front end knows the
// simulated addresses (a trace reader, a functional emulator); instructions
// reference entries through their MetadataToken field. Token 0 is reserved
// for "no metadata".
type MetadataRegistry struct {
	accesses  map[uint32]MemoryAccess
	nextToken uint32
}

// NewMetadataRegistry returns an empty registry.
func NewMetadataRegistry() *MetadataRegistry {
	return &MetadataRegistry{
		accesses:  make(map[uint32]MemoryAccess),
		nextToken: 1,
	}
}

// Register stores an access descriptor and returns its token.
func (r *MetadataRegistry) Register(ma MemoryAccess) uint32 {
	tok := r.nextToken
	r.nextToken++
	r.accesses[tok] = ma
	return tok
}

// Lookup returns the descriptor for a token. The second result is false for
// token 0 or an unknown token.
func (r *MetadataRegistry) Lookup(token uint32) (MemoryAccess, bool) {
	ma, ok := r.accesses[token]
	return ma, ok
}

// Len returns the number of registered descriptors.
func (r *MetadataRegistry) Len() int {
	return len(r.accesses)
}
