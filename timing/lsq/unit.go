// Package lsq models the memory-ordering behavior of an out-of-order
// load/store unit.
//
// Memory instructions dispatched in program order are assigned to memory
// groups: sets of instructions whose relative execution order is
// unobservable. Groups carry explicit ordering edges to later groups,
// reproducing the hazards a real load-store unit enforces (store-after-store,
// store-after-load, load-after-store, and explicit barriers) while
// respecting finite load-queue and store-queue capacity.
//
// Usage:
//
//	unit := lsq.NewUnit(lsq.WithQueueSizes(32, 16))
//	if unit.IsAvailable(ref) == lsq.Available {
//		gid := unit.Dispatch(ref)
//		// ... later, from the execute and retire stages:
//		unit.OnInstructionIssued(ref)
//		unit.OnInstructionExecuted(ref)
//		unit.OnInstructionRetired(ref)
//		_ = gid
//	}
package lsq

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sarchlab/oosim/insts"
	"github.com/sarchlab/oosim/timing/sched"
)

// Status is the result of a dispatch availability pre-check.
type Status int

const (
	// Available means the instruction can be dispatched this cycle.
	Available Status = iota
	// LoadQueueFull means dispatch must stall for a load queue slot.
	LoadQueueFull
	// StoreQueueFull means dispatch must stall for a store queue slot.
	StoreQueueFull
)

func (s Status) String() string {
	switch s {
	case Available:
		return "Available"
	case LoadQueueFull:
		return "LoadQueueFull"
	case StoreQueueFull:
		return "StoreQueueFull"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Unit is the load/store unit. It owns the live memory-group registry, the
// load/store queue occupancy counters, and the dispatch cursors. A Unit is
// driven synchronously by a single pipeline driver: Dispatch in program
// order, execution and retirement callbacks as the simulated events occur,
// and CycleEvent once per simulated cycle.
type Unit struct {
	lqSize int
	sqSize int

	usedLQEntries int
	usedSQEntries int

	assumeNoAlias bool
	oracle        AliasOracle
	metadata      *MetadataRegistry

	groups      map[uint64]*MemoryGroup
	nextGroupID uint64

	currentLoadGroupID         uint64
	currentStoreGroupID        uint64
	currentLoadBarrierGroupID  uint64
	currentStoreBarrierGroupID uint64
}

// UnitOption configures a Unit at construction.
type UnitOption func(*Unit)

// WithQueueSizes sets explicit load and store queue capacities. 0 means
// unbounded. A nonzero explicit capacity always wins over one derived from a
// scheduling model.
func WithQueueSizes(loadQueue, storeQueue int) UnitOption {
	return func(u *Unit) {
		if loadQueue != 0 {
			u.lqSize = loadQueue
		}
		if storeQueue != 0 {
			u.sqSize = storeQueue
		}
	}
}

// WithSchedModel derives queue capacities from the scheduling model's
// designated load/store queue resources. Capacities already set explicitly
// are kept.
func WithSchedModel(m *sched.Model) UnitOption {
	return func(u *Unit) {
		if u.lqSize == 0 {
			u.lqSize = m.LoadQueueCapacity()
		}
		if u.sqSize == 0 {
			u.sqSize = m.StoreQueueCapacity()
		}
	}
}

// WithAssumeNoAlias makes the unit treat accesses without precise address
// metadata as independent instead of conservatively aliased.
func WithAssumeNoAlias() UnitOption {
	return func(u *Unit) {
		u.assumeNoAlias = true
		u.oracle = RangeOracle{AssumeNoAlias: true}
	}
}

// WithMetadataRegistry attaches the registry precise access descriptors are
// fetched from. Without a registry every access is assumed imprecise.
func WithMetadataRegistry(r *MetadataRegistry) UnitOption {
	return func(u *Unit) {
		u.metadata = r
	}
}

// WithAliasOracle replaces the default range-comparison alias oracle.
func WithAliasOracle(o AliasOracle) UnitOption {
	return func(u *Unit) {
		u.oracle = o
	}
}

// NewUnit creates a load/store unit. Without options both queues are
// unbounded, aliasing is assumed conservatively, and no metadata registry is
// attached.
func NewUnit(opts ...UnitOption) *Unit {
	u := &Unit{
		groups:      make(map[uint64]*MemoryGroup),
		nextGroupID: 1,
		oracle:      RangeOracle{},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// LoadQueueSize returns the load queue capacity (0 = unbounded).
func (u *Unit) LoadQueueSize() int { return u.lqSize }

// StoreQueueSize returns the store queue capacity (0 = unbounded).
func (u *Unit) StoreQueueSize() int { return u.sqSize }

// UsedLQEntries returns the current load queue occupancy.
func (u *Unit) UsedLQEntries() int { return u.usedLQEntries }

// UsedSQEntries returns the current store queue occupancy.
func (u *Unit) UsedSQEntries() int { return u.usedSQEntries }

// AssumeNoAlias returns the unit-wide no-alias configuration flag.
func (u *Unit) AssumeNoAlias() bool { return u.assumeNoAlias }

// IsLQFull reports whether the load queue has no free slot.
func (u *Unit) IsLQFull() bool {
	return u.lqSize != 0 && u.usedLQEntries == u.lqSize
}

// IsSQFull reports whether the store queue has no free slot.
func (u *Unit) IsSQFull() bool {
	return u.sqSize != 0 && u.usedSQEntries == u.sqSize
}

func (u *Unit) acquireLQSlot() { u.usedLQEntries++ }
func (u *Unit) acquireSQSlot() { u.usedSQEntries++ }

func (u *Unit) releaseLQSlot() {
	if u.usedLQEntries == 0 {
		panic("lsq: load queue slot released but none acquired")
	}
	u.usedLQEntries--
}

func (u *Unit) releaseSQSlot() {
	if u.usedSQEntries == 0 {
		panic("lsq: store queue slot released but none acquired")
	}
	u.usedSQEntries--
}

// Group returns the live group with the given ID. Looking up a dead or
// never-created group is a contract violation.
func (u *Unit) Group(id uint64) *MemoryGroup {
	g, ok := u.groups[id]
	if !ok {
		panic(fmt.Sprintf("lsq: group %d is not in flight", id))
	}
	return g
}

// IsValidGroupID reports whether the ID names a live group.
func (u *Unit) IsValidGroupID(id uint64) bool {
	_, ok := u.groups[id]
	return ok
}

// NumGroups returns the number of live groups.
func (u *Unit) NumGroups() int { return len(u.groups) }

func (u *Unit) createMemoryGroup() uint64 {
	id := u.nextGroupID
	u.nextGroupID++
	u.groups[id] = NewMemoryGroup(id)
	return id
}

// memoryAccess fetches the instruction's precise access descriptor, or nil
// when the instruction carries no metadata token or no registry is attached.
func (u *Unit) memoryAccess(ref insts.InstRef) *MemoryAccess {
	if u.metadata == nil || ref.Inst.MetadataToken == 0 {
		return nil
	}
	ma, ok := u.metadata.Lookup(ref.Inst.MetadataToken)
	if !ok {
		return nil
	}
	return &ma
}

// isStoreOp classifies the instruction for queue and grouping purposes. An
// instruction counts as a store when its descriptor says it may write
// memory, or when precise metadata marks the access as a store even though
// the opcode looked load-only. Ambiguity resolves toward "store".
func isStoreOp(inst *insts.Instruction, ma *MemoryAccess) bool {
	return inst.MayStore || (ma != nil && ma.IsStore)
}

// noAlias asks the oracle whether the access is provably independent of the
// given group.
func (u *Unit) noAlias(gid uint64, ma *MemoryAccess) bool {
	return u.oracle.NoAlias(u.Group(gid), ma)
}

// IsAvailable is the read-only capacity pre-check the driver must run before
// Dispatch. It does not mutate any state.
func (u *Unit) IsAvailable(ref insts.InstRef) Status {
	ma := u.memoryAccess(ref)
	if ref.Inst.MayLoad && u.IsLQFull() {
		return LoadQueueFull
	}
	if isStoreOp(ref.Inst, ma) && u.IsSQFull() {
		return StoreQueueFull
	}
	return Available
}

// Dispatch assigns the instruction to a memory group, inserting the ordering
// edges its hazards require, and returns the group ID. The ID is also
// written to the instruction's LSQToken slot.
//
// The caller must have checked IsAvailable first; Dispatch acquires queue
// slots unconditionally. Dispatching a non-memory instruction is a contract
// violation.
func (u *Unit) Dispatch(ref insts.InstRef) uint64 {
	inst := ref.Inst
	ma := u.memoryAccess(ref)
	isLoadBarrier := inst.LoadBarrier
	isStoreBarrier := inst.StoreBarrier
	if !inst.IsMemOp() {
		panic("lsq: dispatched instruction is not a memory operation")
	}

	if inst.MayLoad {
		u.acquireLQSlot()
	}
	if isStoreOp(inst, ma) {
		u.acquireSQSlot()
	}

	if isStoreOp(inst, ma) {
		newGID := u.createMemoryGroup()
		newGroup := u.Group(newGID)
		newGroup.AddInstruction()
		newGroup.AddMemAccess(ma)

		// A store may not pass a previous load or load barrier.
		immediateLoadDominator := max(
			u.currentLoadGroupID, u.currentLoadBarrierGroupID)
		if immediateLoadDominator != 0 {
			idom := u.Group(immediateLoadDominator)
			idom.AddSuccessor(newGroup, !u.noAlias(immediateLoadDominator, ma))
		}

		// A store may not pass a previous store barrier.
		if u.currentStoreBarrierGroupID != 0 {
			storeGroup := u.Group(u.currentStoreBarrierGroupID)
			storeGroup.AddSuccessor(newGroup, true)
		}

		// A store may not pass a previous store.
		if u.currentStoreGroupID != 0 &&
			u.currentStoreGroupID != u.currentStoreBarrierGroupID {
			storeGroup := u.Group(u.currentStoreGroupID)
			storeGroup.AddSuccessor(
				newGroup, !u.noAlias(u.currentStoreGroupID, ma))
		}

		u.currentStoreGroupID = newGID
		if isStoreBarrier {
			u.currentStoreBarrierGroupID = newGID
		}

		if inst.MayLoad {
			u.currentLoadGroupID = newGID
			if isLoadBarrier {
				u.currentLoadBarrierGroupID = newGID
			}
		}

		inst.LSQToken = newGID
		return newGID
	}

	if !inst.MayLoad {
		panic("lsq: expected a load")
	}

	immediateLoadDominator := max(
		u.currentLoadGroupID, u.currentLoadBarrierGroupID)

	// A new load group is created if we are in one of the following
	// situations:
	// 1) This is a load barrier. A barrier is always the sole founding
	//    member of its own group.
	// 2) There is no load in flight.
	// 3) There is a load barrier in flight; this load depends on it.
	// 4) There is an intervening store between the last dispatched load and
	//    this load. A new group is created even if this load does not alias
	//    the store.
	// 5) The active load group has already started execution, so it cannot
	//    accept new members.
	shouldCreateANewGroup := isLoadBarrier ||
		immediateLoadDominator == 0 ||
		u.currentLoadBarrierGroupID == immediateLoadDominator ||
		immediateLoadDominator <= u.currentStoreGroupID ||
		u.Group(immediateLoadDominator).IsExecuting()

	if shouldCreateANewGroup {
		newGID := u.createMemoryGroup()
		newGroup := u.Group(newGID)
		newGroup.AddInstruction()
		newGroup.AddMemAccess(ma)

		// A load may not pass a previous store unless proven independent.
		if u.currentStoreGroupID != 0 && !u.noAlias(u.currentStoreGroupID, ma) {
			storeGroup := u.Group(u.currentStoreGroupID)
			storeGroup.AddSuccessor(newGroup, true)
		}

		if isLoadBarrier {
			// A load barrier may not pass a previous load or load barrier.
			if immediateLoadDominator != 0 {
				loadGroup := u.Group(immediateLoadDominator)
				loadGroup.AddSuccessor(newGroup, true)
			}
		} else {
			// A younger load may not pass an older load barrier.
			if u.currentLoadBarrierGroupID != 0 {
				loadGroup := u.Group(u.currentLoadBarrierGroupID)
				loadGroup.AddSuccessor(newGroup, true)
			}
		}

		u.currentLoadGroupID = newGID
		if isLoadBarrier {
			u.currentLoadBarrierGroupID = newGID
		}
		inst.LSQToken = newGID
		return newGID
	}

	// A load may pass a previous load.
	group := u.Group(u.currentLoadGroupID)
	group.AddInstruction()
	group.AddMemAccess(ma)
	inst.LSQToken = u.currentLoadGroupID
	return u.currentLoadGroupID
}

// CurrentLoadGroupID returns the cursor naming the youngest load group, or 0.
func (u *Unit) CurrentLoadGroupID() uint64 { return u.currentLoadGroupID }

// CurrentStoreGroupID returns the cursor naming the youngest store group,
// or 0.
func (u *Unit) CurrentStoreGroupID() uint64 { return u.currentStoreGroupID }

// CurrentLoadBarrierGroupID returns the cursor naming the youngest load
// barrier group, or 0.
func (u *Unit) CurrentLoadBarrierGroupID() uint64 {
	return u.currentLoadBarrierGroupID
}

// CurrentStoreBarrierGroupID returns the cursor naming the youngest store
// barrier group, or 0.
func (u *Unit) CurrentStoreBarrierGroupID() uint64 {
	return u.currentStoreBarrierGroupID
}

// IsReady reports whether the instruction's group has no unexecuted
// must-wait predecessor left, so the instruction may begin executing.
func (u *Unit) IsReady(ref insts.InstRef) bool {
	return u.Group(ref.Inst.LSQToken).IsReady()
}

// IsPending reports whether all remaining predecessors of the instruction's
// group are currently executing.
func (u *Unit) IsPending(ref insts.InstRef) bool {
	return u.Group(ref.Inst.LSQToken).IsPending()
}

// IsWaiting reports whether some predecessor of the instruction's group has
// not begun executing.
func (u *Unit) IsWaiting(ref insts.InstRef) bool {
	return u.Group(ref.Inst.LSQToken).IsWaiting()
}

// CycleEvent advances every live group by one cycle, in group ID order for
// determinism.
func (u *Unit) CycleEvent() {
	ids := make([]uint64, 0, len(u.groups))
	for id := range u.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		u.groups[id].CycleEvent()
	}
}

// OnInstructionIssued records that the instruction began executing.
func (u *Unit) OnInstructionIssued(ref insts.InstRef) {
	if !ref.Inst.IsMemOp() {
		return
	}
	u.Group(ref.Inst.LSQToken).OnInstructionIssued()
}

// OnInstructionExecuted records that the instruction finished executing. A
// group whose members have all executed is evicted from the registry, and
// any dispatch cursor still naming it is cleared.
func (u *Unit) OnInstructionExecuted(ref insts.InstRef) {
	if !ref.Inst.IsMemOp() {
		return
	}

	gid := ref.Inst.LSQToken
	g, ok := u.groups[gid]
	if !ok {
		panic(fmt.Sprintf(
			"lsq: instruction %d was not dispatched to the load/store unit",
			ref.SourceIndex))
	}
	g.OnInstructionExecuted()
	if g.IsExecuted() {
		delete(u.groups, gid)
	}

	if !u.IsValidGroupID(gid) {
		if gid == u.currentLoadGroupID {
			u.currentLoadGroupID = 0
		}
		if gid == u.currentStoreGroupID {
			u.currentStoreGroupID = 0
		}
		if gid == u.currentLoadBarrierGroupID {
			u.currentLoadBarrierGroupID = 0
		}
		if gid == u.currentStoreBarrierGroupID {
			u.currentStoreBarrierGroupID = 0
		}
	}
}

// OnInstructionRetired releases the queue slots the instruction acquired at
// dispatch, using the same classification dispatch used.
func (u *Unit) OnInstructionRetired(ref insts.InstRef) {
	ma := u.memoryAccess(ref)
	isALoad := ref.Inst.MayLoad
	isAStore := isStoreOp(ref.Inst, ma)
	if !isALoad && !isAStore {
		panic("lsq: retired instruction is not a memory operation")
	}

	if isALoad {
		u.releaseLQSlot()
	}
	if isAStore {
		u.releaseSQSlot()
	}
}

// Dump returns a diagnostic description of the unit's state.
func (u *Unit) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[LSQ] LQ_Size = %d\n", u.lqSize)
	fmt.Fprintf(&sb, "[LSQ] SQ_Size = %d\n", u.sqSize)
	fmt.Fprintf(&sb, "[LSQ] UsedLQEntries = %d\n", u.usedLQEntries)
	fmt.Fprintf(&sb, "[LSQ] UsedSQEntries = %d\n", u.usedSQEntries)

	ids := make([]uint64, 0, len(u.groups))
	for id := range u.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		g := u.groups[id]
		fmt.Fprintf(&sb,
			"[LSQ] Group (%d): [ #Preds = %d, #GIssued = %d, "+
				"#GExecuted = %d, #Inst = %d, #IIssued = %d, #IExecuted = %d ]\n",
			id, g.NumPredecessors(), g.NumExecutingPredecessors(),
			g.NumExecutedPredecessors(), g.NumInstructions(),
			g.NumExecuting(), g.NumExecuted())
	}
	return sb.String()
}
