package lsq

// MemoryAccess describes one memory access as the half-open address range
// [Addr, Addr+Size). When several accesses are folded into the same memory
// group, the descriptor grows a shared bundle that records the union range
// plus every original access. The bundle is owned by the group's access
// record; every copy of the descriptor made after bundling sees widening
// appends through the shared pointer.
type MemoryAccess struct {
	IsStore bool
	Addr    uint64
	Size    uint64

	bundle *accessBundle
}

// accessBundle holds the union range of all bundled accesses and the ordered
// list of original accesses. Append-only: ranges never shrink and accesses
// are never removed.
type accessBundle struct {
	extendedAddr uint64
	extendedSize uint64
	accesses     []MemoryAccess
}

// NewMemoryAccess returns a descriptor for a single access.
func NewMemoryAccess(isStore bool, addr, size uint64) MemoryAccess {
	return MemoryAccess{IsStore: isStore, Addr: addr, Size: size}
}

// ExtendedStart returns the start of the bundle's union range, or the single
// access's start if no bundle exists.
func (ma *MemoryAccess) ExtendedStart() uint64 {
	if ma.bundle != nil {
		return ma.bundle.extendedAddr
	}
	return ma.Addr
}

// ExtendedEnd returns the end of the bundle's union range, or the single
// access's end if no bundle exists.
func (ma *MemoryAccess) ExtendedEnd() uint64 {
	if ma.bundle != nil {
		return ma.bundle.extendedAddr + ma.bundle.extendedSize
	}
	return ma.Addr + ma.Size
}

// Bundled returns true once Append has folded at least one extra access in.
func (ma *MemoryAccess) Bundled() bool {
	return ma.bundle != nil
}

// Accesses returns the ordered list of accesses folded into this descriptor,
// starting with the original one. Without a bundle it returns just the
// original access.
func (ma *MemoryAccess) Accesses() []MemoryAccess {
	if ma.bundle != nil {
		return ma.bundle.accesses
	}
	return []MemoryAccess{{IsStore: ma.IsStore, Addr: ma.Addr, Size: ma.Size}}
}

// Append folds another access into this descriptor. The bundle is created
// lazily on first call, seeded with the original access, then widened to
// cover the new range.
func (ma *MemoryAccess) Append(isStore bool, addr, size uint64) {
	if ma.bundle == nil {
		ma.bundle = &accessBundle{
			extendedAddr: ma.Addr,
			extendedSize: ma.Size,
			accesses: []MemoryAccess{
				{IsStore: ma.IsStore, Addr: ma.Addr, Size: ma.Size},
			},
		}
	}
	b := ma.bundle

	if addr < b.extendedAddr {
		b.extendedAddr = addr
	}
	if end := addr + size; end > b.extendedAddr+b.extendedSize {
		b.extendedSize = end - b.extendedAddr
	}

	b.accesses = append(b.accesses, MemoryAccess{
		IsStore: isStore, Addr: addr, Size: size,
	})
}

// Overlaps reports whether the extended ranges of the two descriptors
// intersect.
func (ma *MemoryAccess) Overlaps(other *MemoryAccess) bool {
	return ma.ExtendedStart() < other.ExtendedEnd() &&
		other.ExtendedStart() < ma.ExtendedEnd()
}
