// Package core provides the cycle-stepped driver around the load/store
// unit. It plays the role of the surrounding pipeline: it dispatches a
// program of memory operations in order, starts execution of instructions
// whose memory group is ready, reports execution and retirement events back
// to the unit, and collects statistics.
package core

import (
	"github.com/sarchlab/oosim/insts"
	"github.com/sarchlab/oosim/timing/lsq"
	"github.com/sarchlab/oosim/timing/mem"
	"github.com/sarchlab/oosim/timing/sched"
)

// MemOpKind classifies one trace operation.
type MemOpKind int

const (
	// Load reads memory.
	Load MemOpKind = iota
	// Store writes memory.
	Store
	// LoadBarrier fences all prior loads.
	LoadBarrier
	// StoreBarrier fences all prior stores.
	StoreBarrier
)

// MemOp is one memory operation of the driven program. HasAddr marks ops
// with a precise address range; without it aliasing is assumed
// conservatively.
type MemOp struct {
	Kind    MemOpKind
	Addr    uint64
	Size    uint64
	HasAddr bool
}

// Stats holds driver statistics for one run.
type Stats struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Dispatched is the number of operations dispatched to the unit.
	Dispatched uint64
	// Retired is the number of operations retired.
	Retired uint64
	// GroupsFormed is the number of memory groups created.
	GroupsFormed uint64
	// LoadQueueStalls counts cycles dispatch stalled on a full load queue.
	LoadQueueStalls uint64
	// StoreQueueStalls counts cycles dispatch stalled on a full store queue.
	StoreQueueStalls uint64
}

// IPC returns retired operations per cycle.
func (s Stats) IPC() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.Retired) / float64(s.Cycles)
}

type instState int

const (
	stateDispatched instState = iota
	stateExecuting
	stateExecuted
	stateRetired
)

type inflight struct {
	ref        insts.InstRef
	op         MemOp
	state      instState
	cyclesLeft uint64
}

// Driver runs a program of memory operations through a load/store unit.
type Driver struct {
	unit     *lsq.Unit
	metadata *lsq.MetadataRegistry
	dcache   *mem.Cache

	loadLatency    uint64
	storeLatency   uint64
	barrierLatency uint64
	issueWidth     int
	dispatchWidth  int

	program  []MemOp
	refs     []insts.InstRef
	window   []*inflight
	nextDisp int
	nextRet  int

	stats    Stats
	maxGroup uint64
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDCache gives loads cache-dependent latency instead of the fixed load
// latency. Only ops with a precise address go through the cache.
func WithDCache(config mem.Config) DriverOption {
	return func(d *Driver) {
		d.dcache = mem.New(config)
	}
}

// WithLatencies sets the fixed execution latencies in cycles.
func WithLatencies(load, store uint64) DriverOption {
	return func(d *Driver) {
		d.loadLatency = load
		d.storeLatency = store
	}
}

// WithIssueWidth bounds how many instructions may begin executing per cycle.
func WithIssueWidth(n int) DriverOption {
	return func(d *Driver) {
		d.issueWidth = n
	}
}

// WithDispatchWidth bounds how many instructions may dispatch per cycle.
func WithDispatchWidth(n int) DriverOption {
	return func(d *Driver) {
		d.dispatchWidth = n
	}
}

// NewDriver creates a driver for the given program. The load/store unit is
// built from the scheduling model plus the given unit options; the driver
// always attaches its own metadata registry so ops with precise addresses
// reach the unit as descriptors.
func NewDriver(
	model *sched.Model,
	program []MemOp,
	opts ...DriverOption,
) *Driver {
	d := &Driver{
		metadata:       lsq.NewMetadataRegistry(),
		loadLatency:    4,
		storeLatency:   1,
		barrierLatency: 1,
		issueWidth:     4,
		dispatchWidth:  2,
		program:        program,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.unit = lsq.NewUnit(
		lsq.WithSchedModel(model),
		lsq.WithMetadataRegistry(d.metadata),
	)
	d.buildRefs()
	return d
}

// NewDriverWithUnit creates a driver around an already-configured unit. The
// unit must share the given metadata registry for precise addresses to be
// visible to it.
func NewDriverWithUnit(
	unit *lsq.Unit,
	metadata *lsq.MetadataRegistry,
	program []MemOp,
	opts ...DriverOption,
) *Driver {
	d := &Driver{
		unit:           unit,
		metadata:       metadata,
		loadLatency:    4,
		storeLatency:   1,
		barrierLatency: 1,
		issueWidth:     4,
		dispatchWidth:  2,
		program:        program,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.buildRefs()
	return d
}

func (d *Driver) buildRefs() {
	d.refs = make([]insts.InstRef, len(d.program))
	for i, op := range d.program {
		var inst *insts.Instruction
		var token uint32
		if op.HasAddr {
			token = d.metadata.Register(
				lsq.NewMemoryAccess(op.Kind == Store, op.Addr, op.Size))
		}
		switch op.Kind {
		case Load:
			inst = insts.NewLoad(token)
		case Store:
			inst = insts.NewStore(token)
		case LoadBarrier:
			inst = insts.NewLoadBarrier()
		case StoreBarrier:
			inst = insts.NewStoreBarrier()
		}
		d.refs[i] = insts.InstRef{SourceIndex: i, Inst: inst}
	}
}

// Unit returns the driven load/store unit.
func (d *Driver) Unit() *lsq.Unit { return d.unit }

// DCacheStats returns the data cache counters, or zero statistics when no
// cache is attached.
func (d *Driver) DCacheStats() mem.Statistics {
	if d.dcache == nil {
		return mem.Statistics{}
	}
	return d.dcache.Stats()
}

// Stats returns the statistics collected so far.
func (d *Driver) Stats() Stats { return d.stats }

// Done reports whether every operation has retired.
func (d *Driver) Done() bool {
	return d.nextRet == len(d.program)
}

func (d *Driver) latencyOf(op MemOp) uint64 {
	switch op.Kind {
	case Load:
		if d.dcache != nil && op.HasAddr {
			lat, _ := d.dcache.Access(op.Addr)
			return lat
		}
		return d.loadLatency
	case Store:
		return d.storeLatency
	default:
		return d.barrierLatency
	}
}

// Tick simulates one cycle: advance groups, complete and retire finished
// instructions, start ready ones, and dispatch while queue slots remain.
func (d *Driver) Tick() {
	d.stats.Cycles++
	d.unit.CycleEvent()

	// Count down in-flight instructions and report completions.
	for _, f := range d.window[d.nextRet:] {
		if f.state != stateExecuting {
			continue
		}
		f.cyclesLeft--
		if f.cyclesLeft == 0 {
			d.unit.OnInstructionExecuted(f.ref)
			f.state = stateExecuted
		}
	}

	// Retire in program order.
	for d.nextRet < d.nextDisp {
		f := d.window[d.nextRet]
		if f.state != stateExecuted {
			break
		}
		d.unit.OnInstructionRetired(f.ref)
		f.state = stateRetired
		d.nextRet++
		d.stats.Retired++
	}

	// Begin execution of instructions whose group is ready.
	issued := 0
	for _, f := range d.window[d.nextRet:] {
		if issued == d.issueWidth {
			break
		}
		if f.state != stateDispatched {
			continue
		}
		if !d.unit.IsReady(f.ref) {
			continue
		}
		d.unit.OnInstructionIssued(f.ref)
		f.state = stateExecuting
		f.cyclesLeft = d.latencyOf(f.op)
		issued++
	}

	// Dispatch the next operations while capacity allows.
	for n := 0; n < d.dispatchWidth && d.nextDisp < len(d.program); n++ {
		ref := d.refs[d.nextDisp]
		switch d.unit.IsAvailable(ref) {
		case lsq.LoadQueueFull:
			d.stats.LoadQueueStalls++
			return
		case lsq.StoreQueueFull:
			d.stats.StoreQueueStalls++
			return
		}
		gid := d.unit.Dispatch(ref)
		if gid > d.maxGroup {
			d.maxGroup = gid
			d.stats.GroupsFormed++
		}
		d.window = append(d.window, &inflight{
			ref: ref,
			op:  d.program[d.nextDisp],
		})
		d.nextDisp++
		d.stats.Dispatched++
	}
}

// Run ticks until the program drains, up to maxCycles (0 = no limit).
// Returns false if the limit was hit before the program finished.
func (d *Driver) Run(maxCycles uint64) bool {
	for !d.Done() {
		if maxCycles != 0 && d.stats.Cycles >= maxCycles {
			return false
		}
		d.Tick()
	}
	return true
}
