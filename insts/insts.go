// Package insts provides the instruction representation consumed by the
// timing model.
//
// Instructions are described by capability flags rather than opcodes: the
// load/store unit only cares whether an instruction may read memory, may
// write memory, or acts as a load or store barrier. A metadata token can
// point at a precise memory-access descriptor held in an external registry;
// token 0 means no metadata is available and aliasing must be assumed.
//
// Usage:
//
//	ld := insts.NewLoad(1)
//	ref := insts.InstRef{SourceIndex: 0, Inst: ld}
//	if ref.Inst.IsMemOp() { ... }
package insts

// Instruction describes one instruction's memory behavior.
type Instruction struct {
	// MayLoad indicates the instruction may read memory.
	MayLoad bool
	// MayStore indicates the instruction may write memory.
	MayStore bool
	// LoadBarrier indicates the instruction has load-fence semantics:
	// later loads may not pass it.
	LoadBarrier bool
	// StoreBarrier indicates the instruction has store-fence semantics:
	// later stores may not pass it.
	StoreBarrier bool

	// MetadataToken keys a precise memory-access descriptor in an external
	// registry. 0 means no precise address information exists.
	MetadataToken uint32

	// LSQToken is the memory-group handle assigned by the load/store unit
	// at dispatch. 0 means the instruction has not been dispatched.
	LSQToken uint64
}

// IsMemOp returns true if the instruction touches memory at all.
func (i *Instruction) IsMemOp() bool {
	return i.MayLoad || i.MayStore
}

// InstRef identifies one dynamic instruction in the simulated stream.
type InstRef struct {
	// SourceIndex is the position of the instruction in program order.
	SourceIndex int
	// Inst points at the instruction's static description.
	Inst *Instruction
}

// NewLoad returns a load instruction carrying the given metadata token.
func NewLoad(token uint32) *Instruction {
	return &Instruction{MayLoad: true, MetadataToken: token}
}

// NewStore returns a store instruction carrying the given metadata token.
func NewStore(token uint32) *Instruction {
	return &Instruction{MayStore: true, MetadataToken: token}
}

// NewLoadBarrier returns a load instruction with load-fence semantics.
func NewLoadBarrier() *Instruction {
	return &Instruction{MayLoad: true, LoadBarrier: true}
}

// NewStoreBarrier returns a store instruction with store-fence semantics.
func NewStoreBarrier() *Instruction {
	return &Instruction{MayStore: true, StoreBarrier: true}
}
