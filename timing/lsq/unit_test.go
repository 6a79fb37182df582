package lsq_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/oosim/insts"
	"github.com/sarchlab/oosim/timing/lsq"
	"github.com/sarchlab/oosim/timing/sched"
)

// dispatch wraps an instruction into a ref and dispatches it, returning the
// ref for later execution and retirement callbacks.
func dispatch(u *lsq.Unit, idx int, inst *insts.Instruction) insts.InstRef {
	ref := insts.InstRef{SourceIndex: idx, Inst: inst}
	Expect(u.IsAvailable(ref)).To(Equal(lsq.Available))
	u.Dispatch(ref)
	return ref
}

var _ = Describe("Unit", func() {
	var unit *lsq.Unit

	BeforeEach(func() {
		unit = lsq.NewUnit()
	})

	Describe("dispatch rules", func() {
		It("should reproduce the store/load/load/store scenario", func() {
			sA := dispatch(unit, 0, insts.NewStore(0))
			lB := dispatch(unit, 1, insts.NewLoad(0))
			lC := dispatch(unit, 2, insts.NewLoad(0))
			sD := dispatch(unit, 3, insts.NewStore(0))

			Expect(sA.Inst.LSQToken).To(Equal(uint64(1)))
			Expect(lB.Inst.LSQToken).To(Equal(uint64(2)))
			Expect(lC.Inst.LSQToken).To(Equal(uint64(2)))
			Expect(sD.Inst.LSQToken).To(Equal(uint64(3)))

			g1 := unit.Group(1)
			Expect(g1.Successors()).To(HaveLen(2))
			Expect(g1.Successors()[0].Target.ID()).To(Equal(uint64(2)))
			Expect(g1.Successors()[0].MustWait).To(BeTrue())
			Expect(g1.Successors()[1].Target.ID()).To(Equal(uint64(3)))
			Expect(g1.Successors()[1].MustWait).To(BeTrue())

			g2 := unit.Group(2)
			Expect(g2.NumInstructions()).To(Equal(2))
			Expect(g2.Successors()).To(HaveLen(1))
			Expect(g2.Successors()[0].Target.ID()).To(Equal(uint64(3)))
			Expect(g2.Successors()[0].MustWait).To(BeTrue())

			Expect(unit.Group(3).NumPredecessors()).To(Equal(2))
		})

		It("should give every store its own group", func() {
			s1 := dispatch(unit, 0, insts.NewStore(0))
			s2 := dispatch(unit, 1, insts.NewStore(0))
			s3 := dispatch(unit, 2, insts.NewStore(0))

			Expect(s1.Inst.LSQToken).To(Equal(uint64(1)))
			Expect(s2.Inst.LSQToken).To(Equal(uint64(2)))
			Expect(s3.Inst.LSQToken).To(Equal(uint64(3)))
		})

		It("should chain stores with must-wait edges", func() {
			dispatch(unit, 0, insts.NewStore(0))
			dispatch(unit, 1, insts.NewStore(0))
			dispatch(unit, 2, insts.NewStore(0))

			g1 := unit.Group(1)
			Expect(g1.Successors()).To(HaveLen(1))
			Expect(g1.Successors()[0].Target.ID()).To(Equal(uint64(2)))
			Expect(g1.Successors()[0].MustWait).To(BeTrue())

			g2 := unit.Group(2)
			Expect(g2.Successors()).To(HaveLen(1))
			Expect(g2.Successors()[0].Target.ID()).To(Equal(uint64(3)))
			Expect(g2.Successors()[0].MustWait).To(BeTrue())
		})

		It("should coalesce a run of loads into one group", func() {
			refs := make([]insts.InstRef, 5)
			for i := range refs {
				refs[i] = dispatch(unit, i, insts.NewLoad(0))
			}

			for _, ref := range refs {
				Expect(ref.Inst.LSQToken).To(Equal(uint64(1)))
			}
			Expect(unit.Group(1).NumInstructions()).To(Equal(5))
		})

		It("should close a load group once an intervening store appears", func() {
			l1 := dispatch(unit, 0, insts.NewLoad(0))
			dispatch(unit, 1, insts.NewStore(0))
			l2 := dispatch(unit, 2, insts.NewLoad(0))

			Expect(l1.Inst.LSQToken).To(Equal(uint64(1)))
			Expect(l2.Inst.LSQToken).To(Equal(uint64(3)))
		})

		It("should close a load group once it starts executing", func() {
			l1 := dispatch(unit, 0, insts.NewLoad(0))
			unit.OnInstructionIssued(l1)
			l2 := dispatch(unit, 1, insts.NewLoad(0))

			Expect(l2.Inst.LSQToken).To(Equal(uint64(2)))
		})

		It("should keep a store that also loads on both cursors", func() {
			ldst := &insts.Instruction{MayLoad: true, MayStore: true}
			dispatch(unit, 0, ldst)

			Expect(unit.CurrentLoadGroupID()).To(Equal(uint64(1)))
			Expect(unit.CurrentStoreGroupID()).To(Equal(uint64(1)))

			// The next load sees the store as its dominator and starts fresh.
			l := dispatch(unit, 1, insts.NewLoad(0))
			Expect(l.Inst.LSQToken).To(Equal(uint64(2)))
		})
	})

	Describe("barriers", func() {
		It("should isolate a load barrier in its own group", func() {
			dispatch(unit, 0, insts.NewLoad(0))
			dispatch(unit, 1, insts.NewLoad(0))
			lb := dispatch(unit, 2, insts.NewLoadBarrier())

			Expect(lb.Inst.LSQToken).To(Equal(uint64(2)))
			Expect(unit.Group(2).NumInstructions()).To(Equal(1))

			g1 := unit.Group(1)
			Expect(g1.Successors()).To(HaveLen(1))
			Expect(g1.Successors()[0].Target.ID()).To(Equal(uint64(2)))
			Expect(g1.Successors()[0].MustWait).To(BeTrue())
		})

		It("should order loads after a pending load barrier", func() {
			dispatch(unit, 0, insts.NewLoadBarrier())
			l := dispatch(unit, 1, insts.NewLoad(0))

			Expect(l.Inst.LSQToken).To(Equal(uint64(2)))
			g1 := unit.Group(1)
			Expect(g1.Successors()).To(HaveLen(1))
			Expect(g1.Successors()[0].MustWait).To(BeTrue())
		})

		It("should chain consecutive load barriers", func() {
			lb1 := dispatch(unit, 0, insts.NewLoadBarrier())
			lb2 := dispatch(unit, 1, insts.NewLoadBarrier())

			Expect(lb1.Inst.LSQToken).To(Equal(uint64(1)))
			Expect(lb2.Inst.LSQToken).To(Equal(uint64(2)))
			Expect(unit.Group(1).Successors()[0].MustWait).To(BeTrue())
		})

		It("should strictly order stores after a store barrier", func() {
			noAliasUnit := lsq.NewUnit(lsq.WithAssumeNoAlias())
			dispatch(noAliasUnit, 0, insts.NewStoreBarrier())
			s := dispatch(noAliasUnit, 1, insts.NewStore(0))

			// Even with no-alias in force the barrier edge is mandatory.
			Expect(s.Inst.LSQToken).To(Equal(uint64(2)))
			g1 := noAliasUnit.Group(1)
			Expect(g1.Successors()).To(HaveLen(1))
			Expect(g1.Successors()[0].MustWait).To(BeTrue())
		})

		It("should not duplicate the store edge when barrier and store cursors match", func() {
			dispatch(unit, 0, insts.NewStoreBarrier())
			dispatch(unit, 1, insts.NewStore(0))

			Expect(unit.Group(1).Successors()).To(HaveLen(1))
		})
	})

	Describe("aliasing", func() {
		Context("with AssumeNoAlias and no metadata", func() {
			var unit *lsq.Unit

			BeforeEach(func() {
				unit = lsq.NewUnit(lsq.WithAssumeNoAlias())
			})

			It("should record store-after-load edges as advisory", func() {
				dispatch(unit, 0, insts.NewLoad(0))
				s := dispatch(unit, 1, insts.NewStore(0))

				Expect(s.Inst.LSQToken).To(Equal(uint64(2)))
				g1 := unit.Group(1)
				Expect(g1.Successors()).To(HaveLen(1))
				Expect(g1.Successors()[0].MustWait).To(BeFalse())
			})

			It("should record store-after-store edges as advisory", func() {
				dispatch(unit, 0, insts.NewStore(0))
				dispatch(unit, 1, insts.NewStore(0))

				g1 := unit.Group(1)
				Expect(g1.Successors()).To(HaveLen(1))
				Expect(g1.Successors()[0].MustWait).To(BeFalse())
			})

			It("should omit the load-after-store edge entirely", func() {
				dispatch(unit, 0, insts.NewStore(0))
				l := dispatch(unit, 1, insts.NewLoad(0))

				// A new group is still forced by the intervening store.
				Expect(l.Inst.LSQToken).To(Equal(uint64(2)))
				Expect(unit.Group(1).Successors()).To(BeEmpty())
			})
		})

		Context("with precise address metadata", func() {
			var unit *lsq.Unit
			var registry *lsq.MetadataRegistry

			BeforeEach(func() {
				registry = lsq.NewMetadataRegistry()
				unit = lsq.NewUnit(lsq.WithMetadataRegistry(registry))
			})

			It("should prove disjoint accesses independent", func() {
				st := registry.Register(lsq.NewMemoryAccess(true, 0x1000, 8))
				ld := registry.Register(lsq.NewMemoryAccess(false, 0x2000, 8))

				dispatch(unit, 0, insts.NewStore(st))
				l := dispatch(unit, 1, insts.NewLoad(ld))

				Expect(l.Inst.LSQToken).To(Equal(uint64(2)))
				Expect(unit.Group(1).Successors()).To(BeEmpty())
			})

			It("should force a must-wait edge for overlapping accesses", func() {
				st := registry.Register(lsq.NewMemoryAccess(true, 0x1000, 8))
				ld := registry.Register(lsq.NewMemoryAccess(false, 0x1004, 8))

				dispatch(unit, 0, insts.NewStore(st))
				dispatch(unit, 1, insts.NewLoad(ld))

				g1 := unit.Group(1)
				Expect(g1.Successors()).To(HaveLen(1))
				Expect(g1.Successors()[0].MustWait).To(BeTrue())
			})

			It("should treat a load with a store descriptor as a store", func() {
				tok := registry.Register(lsq.NewMemoryAccess(true, 0x1000, 8))
				ref := dispatch(unit, 0, insts.NewLoad(tok))

				Expect(unit.UsedLQEntries()).To(Equal(1))
				Expect(unit.UsedSQEntries()).To(Equal(1))
				Expect(unit.CurrentStoreGroupID()).To(Equal(uint64(1)))

				unit.OnInstructionRetired(ref)
				Expect(unit.UsedLQEntries()).To(Equal(0))
				Expect(unit.UsedSQEntries()).To(Equal(0))
			})
		})

		It("should honor an injected oracle", func() {
			unit := lsq.NewUnit(lsq.WithAliasOracle(lsq.AssumeIndependent{}))
			dispatch(unit, 0, insts.NewStore(0))
			dispatch(unit, 1, insts.NewStore(0))

			Expect(unit.Group(1).Successors()[0].MustWait).To(BeFalse())
		})
	})

	Describe("queue capacity", func() {
		It("should report a full load queue", func() {
			unit := lsq.NewUnit(lsq.WithQueueSizes(1, 0))
			dispatch(unit, 0, insts.NewLoad(0))

			ref := insts.InstRef{SourceIndex: 1, Inst: insts.NewLoad(0)}
			Expect(unit.IsAvailable(ref)).To(Equal(lsq.LoadQueueFull))
		})

		It("should report a full store queue", func() {
			unit := lsq.NewUnit(lsq.WithQueueSizes(0, 1))
			dispatch(unit, 0, insts.NewStore(0))

			ref := insts.InstRef{SourceIndex: 1, Inst: insts.NewStore(0)}
			Expect(unit.IsAvailable(ref)).To(Equal(lsq.StoreQueueFull))
		})

		It("should treat capacity 0 as unbounded", func() {
			for i := 0; i < 64; i++ {
				dispatch(unit, i, insts.NewLoad(0))
			}

			Expect(unit.IsLQFull()).To(BeFalse())
		})

		It("should return occupancy to zero after retirement", func() {
			refs := []insts.InstRef{
				dispatch(unit, 0, insts.NewStore(0)),
				dispatch(unit, 1, insts.NewLoad(0)),
			}
			Expect(unit.UsedSQEntries()).To(Equal(1))
			Expect(unit.UsedLQEntries()).To(Equal(1))

			for _, ref := range refs {
				unit.OnInstructionRetired(ref)
			}
			Expect(unit.UsedSQEntries()).To(Equal(0))
			Expect(unit.UsedLQEntries()).To(Equal(0))
		})

		It("should derive capacities from the scheduling model", func() {
			unit := lsq.NewUnit(lsq.WithSchedModel(sched.DefaultModel()))

			Expect(unit.LoadQueueSize()).To(Equal(130))
			Expect(unit.StoreQueueSize()).To(Equal(60))
		})

		It("should prefer explicit capacities over derived ones", func() {
			unit := lsq.NewUnit(
				lsq.WithQueueSizes(8, 0),
				lsq.WithSchedModel(sched.DefaultModel()),
			)

			Expect(unit.LoadQueueSize()).To(Equal(8))
			Expect(unit.StoreQueueSize()).To(Equal(60))
		})
	})

	Describe("group lifecycle", func() {
		It("should evict a group once fully executed", func() {
			ref := dispatch(unit, 0, insts.NewStore(0))
			Expect(unit.IsValidGroupID(1)).To(BeTrue())

			unit.OnInstructionIssued(ref)
			unit.OnInstructionExecuted(ref)

			Expect(unit.IsValidGroupID(1)).To(BeFalse())
			Expect(unit.NumGroups()).To(Equal(0))
		})

		It("should clear cursors naming an evicted group", func() {
			ref := dispatch(unit, 0, insts.NewStoreBarrier())
			Expect(unit.CurrentStoreGroupID()).To(Equal(uint64(1)))
			Expect(unit.CurrentStoreBarrierGroupID()).To(Equal(uint64(1)))

			unit.OnInstructionExecuted(ref)

			Expect(unit.CurrentStoreGroupID()).To(Equal(uint64(0)))
			Expect(unit.CurrentStoreBarrierGroupID()).To(Equal(uint64(0)))
		})

		It("should keep cursors naming other live groups", func() {
			s1 := dispatch(unit, 0, insts.NewStore(0))
			dispatch(unit, 1, insts.NewStore(0))

			unit.OnInstructionExecuted(s1)

			Expect(unit.CurrentStoreGroupID()).To(Equal(uint64(2)))
		})

		It("should keep a multi-member group live until every member executes", func() {
			l1 := dispatch(unit, 0, insts.NewLoad(0))
			l2 := dispatch(unit, 1, insts.NewLoad(0))

			unit.OnInstructionExecuted(l1)
			Expect(unit.IsValidGroupID(1)).To(BeTrue())

			unit.OnInstructionExecuted(l2)
			Expect(unit.IsValidGroupID(1)).To(BeFalse())
		})

		It("should release must-wait successors through execution", func() {
			s := dispatch(unit, 0, insts.NewStore(0))
			l := dispatch(unit, 1, insts.NewLoad(0))

			Expect(unit.IsReady(l)).To(BeFalse())
			Expect(unit.IsWaiting(l)).To(BeTrue())

			unit.OnInstructionIssued(s)
			Expect(unit.IsReady(l)).To(BeFalse())
			Expect(unit.IsPending(l)).To(BeTrue())

			unit.OnInstructionExecuted(s)
			Expect(unit.IsReady(l)).To(BeTrue())
		})
	})

	Describe("contract violations", func() {
		It("should panic on a dead group lookup", func() {
			Expect(func() { unit.Group(42) }).To(Panic())
		})

		It("should panic when dispatching a non-memory instruction", func() {
			ref := insts.InstRef{SourceIndex: 0, Inst: &insts.Instruction{}}
			Expect(func() { unit.Dispatch(ref) }).To(Panic())
		})

		It("should panic on a double slot release", func() {
			ref := dispatch(unit, 0, insts.NewLoad(0))
			unit.OnInstructionRetired(ref)

			Expect(func() { unit.OnInstructionRetired(ref) }).To(Panic())
		})

		It("should panic when an executed instruction's group is gone", func() {
			ref := dispatch(unit, 0, insts.NewStore(0))
			unit.OnInstructionExecuted(ref)

			Expect(func() { unit.OnInstructionExecuted(ref) }).To(Panic())
		})
	})

	Describe("CycleEvent", func() {
		It("should tolerate advancing with live groups", func() {
			dispatch(unit, 0, insts.NewStore(0))
			dispatch(unit, 1, insts.NewLoad(0))

			Expect(func() {
				unit.CycleEvent()
				unit.CycleEvent()
			}).NotTo(Panic())
		})
	})

	Describe("Dump", func() {
		It("should describe queues and live groups", func() {
			dispatch(unit, 0, insts.NewStore(0))

			out := unit.Dump()
			Expect(out).To(ContainSubstring("UsedSQEntries = 1"))
			Expect(out).To(ContainSubstring("Group (1)"))
		})
	})
})
