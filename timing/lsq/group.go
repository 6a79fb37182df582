package lsq

import "fmt"

// SuccessorEdge is one ordering edge leaving a memory group. MustWait marks a
// hard hazard: the target group may not complete before this group has fully
// executed. Advisory edges (MustWait false) are released as soon as this
// group begins executing and are kept for bookkeeping only.
type SuccessorEdge struct {
	Target   *MemoryGroup
	MustWait bool
}

// MemoryGroup is a set of memory instructions treated as one unit for
// ordering purposes. Groups form a DAG ordered by creation: successor edges
// only ever point at groups with strictly greater IDs.
//
// A group is executing once any member instruction has begun executing and
// not every member has finished; it is executed once every member has
// finished. Fully executed groups are evicted from the unit's registry.
type MemoryGroup struct {
	id uint64

	numInstructions int
	numExecuting    int
	numExecuted     int

	numPredecessors          int
	numExecutingPredecessors int
	numExecutedPredecessors  int

	succ []SuccessorEdge

	access    MemoryAccess
	hasAccess bool
}

// NewMemoryGroup creates an empty group with the given ID. Groups are
// normally created through the unit's dispatch path; the constructor exists
// for direct use of the state machine.
func NewMemoryGroup(id uint64) *MemoryGroup {
	return &MemoryGroup{id: id}
}

// ID returns the group's identifier. IDs start at 1 and are never reused;
// 0 means "no group".
func (g *MemoryGroup) ID() uint64 { return g.id }

// NumInstructions returns the number of member instructions.
func (g *MemoryGroup) NumInstructions() int { return g.numInstructions }

// NumExecuting returns the number of members currently executing.
func (g *MemoryGroup) NumExecuting() int { return g.numExecuting }

// NumExecuted returns the number of members that finished executing.
func (g *MemoryGroup) NumExecuted() int { return g.numExecuted }

// NumPredecessors returns the number of groups with an edge into this one.
func (g *MemoryGroup) NumPredecessors() int { return g.numPredecessors }

// NumExecutingPredecessors returns how many predecessors have begun
// executing.
func (g *MemoryGroup) NumExecutingPredecessors() int {
	return g.numExecutingPredecessors
}

// NumExecutedPredecessors returns how many predecessors have finished
// executing or were released as advisory.
func (g *MemoryGroup) NumExecutedPredecessors() int {
	return g.numExecutedPredecessors
}

// Successors returns the group's outgoing edges in insertion order.
func (g *MemoryGroup) Successors() []SuccessorEdge { return g.succ }

// hasStarted reports whether any member instruction has begun executing.
func (g *MemoryGroup) hasStarted() bool {
	return g.numExecuting > 0 || g.numExecuted > 0
}

// IsExecuting reports whether the group has begun but not finished
// executing.
func (g *MemoryGroup) IsExecuting() bool {
	return g.hasStarted() && !g.IsExecuted()
}

// IsExecuted reports whether every member instruction has finished.
func (g *MemoryGroup) IsExecuted() bool {
	return g.numInstructions > 0 && g.numExecuted == g.numInstructions
}

// IsReady reports whether every predecessor has executed or been released,
// so members of this group may begin executing.
func (g *MemoryGroup) IsReady() bool {
	return g.numExecutedPredecessors == g.numPredecessors
}

// IsWaiting reports whether some predecessor has not yet begun executing.
func (g *MemoryGroup) IsWaiting() bool {
	return g.numPredecessors >
		g.numExecutingPredecessors+g.numExecutedPredecessors
}

// IsPending reports whether all remaining predecessors are currently
// executing.
func (g *MemoryGroup) IsPending() bool {
	return g.numExecutingPredecessors > 0 &&
		g.numExecutingPredecessors+g.numExecutedPredecessors ==
			g.numPredecessors
}

// AddInstruction records one more member instruction.
func (g *MemoryGroup) AddInstruction() {
	g.numInstructions++
}

// AddMemAccess folds a precise access descriptor into the group's access
// record. A nil descriptor means no precise information is available and is
// ignored. The first descriptor seeds the record; later ones widen it
// through the shared bundle.
func (g *MemoryGroup) AddMemAccess(ma *MemoryAccess) {
	if ma == nil {
		return
	}
	if !g.hasAccess {
		g.access = *ma
		g.hasAccess = true
		return
	}
	g.access.Append(ma.IsStore, ma.Addr, ma.Size)
}

// MemAccess returns the group's bundled access record, or nil if no member
// carried precise address information.
func (g *MemoryGroup) MemAccess() *MemoryAccess {
	if !g.hasAccess {
		return nil
	}
	return &g.access
}

// IsMemAccessAlias reports whether the given access may overlap an access
// recorded by this group. Without any recorded access the group must be
// assumed to alias everything.
func (g *MemoryGroup) IsMemAccessAlias(ma *MemoryAccess) bool {
	if !g.hasAccess {
		return true
	}
	return g.access.Overlaps(ma)
}

// AddSuccessor inserts an ordering edge from this group to target. Edges may
// only point forward in creation order.
//
// An advisory edge against a group that already started executing carries no
// information and is dropped.
func (g *MemoryGroup) AddSuccessor(target *MemoryGroup, mustWait bool) {
	if target.id <= g.id {
		panic(fmt.Sprintf(
			"lsq: successor edge %d -> %d violates creation order",
			g.id, target.id))
	}

	if !mustWait && g.hasStarted() {
		return
	}

	target.numPredecessors++
	if g.hasStarted() {
		target.numExecutingPredecessors++
	}
	g.succ = append(g.succ, SuccessorEdge{Target: target, MustWait: mustWait})
}

// OnInstructionIssued records that one member instruction began executing.
// The first member to begin notifies all successors; advisory successors are
// released on the spot since they only wait for execution to start.
func (g *MemoryGroup) OnInstructionIssued() {
	started := g.hasStarted()
	g.numExecuting++
	if started {
		return
	}

	for _, e := range g.succ {
		e.Target.onGroupIssued()
		if !e.MustWait {
			e.Target.onGroupExecuted()
		}
	}
}

// OnInstructionExecuted records that one member instruction finished
// executing. Execution reported without a prior issue event counts as
// issue-then-execute. Once the whole group has executed, must-wait
// successors are released.
func (g *MemoryGroup) OnInstructionExecuted() {
	if g.numExecuting == 0 {
		g.OnInstructionIssued()
	}
	g.numExecuting--
	g.numExecuted++
	if !g.IsExecuted() {
		return
	}

	for _, e := range g.succ {
		if e.MustWait {
			e.Target.onGroupExecuted()
		}
	}
}

// CycleEvent advances the group by one cycle. Groups carry no cycle-costed
// transitions in this model; the hook exists for latency models that do.
func (g *MemoryGroup) CycleEvent() {}

func (g *MemoryGroup) onGroupIssued() {
	g.numExecutingPredecessors++
}

func (g *MemoryGroup) onGroupExecuted() {
	g.numExecutingPredecessors--
	g.numExecutedPredecessors++
}
