package dbsp

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/ddflow/pkg/progress"
)

// reach computes the nodes reachable from the roots along the edges.
func reach(roots, edges *Collection[uint32, uint32], opts ...ScopeOption) *Collection[uint32, uint32] {
	return Iterate(roots, func(s *Scope, v *Collection[uint32, uint32]) *Collection[uint32, uint32] {
		hop := Map(Join(v, Enter(s, edges)), "hop", func(_ uint32, p Pair[uint32, uint32]) (uint32, uint32) {
			return p.Second, p.Second
		})
		return Distinct(Concat(v, hop))
	}, opts...)
}

func buildGraph(fn func(g *Graph)) error {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	return Execute(ctx, testConfig(1), testLogger(), func(w *Worker) error {
		return w.Dataflow(fn)
	})
}

var _ = Describe("Iterate", func() {
	roots := epochs[uint32, uint32]{{{1, 1, 1}}}
	edges := epochs[uint32, uint32]{
		{{1, 2, 1}, {2, 3, 1}, {4, 5, 1}},
		{{3, 4, 1}},
		{{2, 3, -1}},
	}

	It("should compute the fixpoint", func() {
		out, err := run2(testConfig(1), roots, edges[:1], func(r, e *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return reach(r, e)
		})
		Expect(err).NotTo(HaveOccurred())

		final := out.Final()
		Expect(final.Len()).To(Equal(3))
		for _, n := range []uint32{1, 2, 3} {
			Expect(final.Multiplicity(n, n)).To(Equal(int64(1)))
		}
	})

	It("should emit the change of the fixpoint per epoch", func() {
		out, err := run2(testConfig(1), roots, edges, func(r, e *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return reach(r, e)
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(out.At(progress.Time{Epoch: 0}).Len()).To(Equal(3))
		Expect(out.At(progress.Time{Epoch: 1}).Len()).To(Equal(5))

		final := out.Final()
		Expect(final.Len()).To(Equal(2))
		Expect(final.Multiplicity(3, 3)).To(Equal(int64(0)))

		// every record is stamped with an outer time
		for _, r := range out.Records() {
			Expect(r.Time.Round).To(BeZero())
		}
		Expect(out.Records()).To(ContainElement(Record[uint32, uint32]{Key: 3, Val: 3, Time: progress.Time{Epoch: 2}, Diff: -1}))
	})

	It("should produce no output for an epoch without changes", func() {
		out, err := run2(testConfig(1), roots, epochs[uint32, uint32]{edges[0], {}, {}}, func(r, e *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return reach(r, e)
		})
		Expect(err).NotTo(HaveOccurred())
		for _, r := range out.Records() {
			Expect(r.Time.Epoch).To(BeZero())
		}
	})

	It("should agree across workers", func() {
		build := func(r, e *Collection[uint32, uint32]) *Collection[uint32, uint32] { return reach(r, e) }
		one, err := run2(testConfig(1), roots, edges, build)
		Expect(err).NotTo(HaveOccurred())
		three, err := run2(testConfig(3), roots, edges, build)
		Expect(err).NotTo(HaveOccurred())
		for e := uint64(0); e < 3; e++ {
			t := progress.Time{Epoch: e}
			Expect(three.At(t).Equal(one.At(t))).To(BeTrue(), "epoch %d", e)
		}
	})

	It("should run rounds inside the scope", func() {
		var mu sync.Mutex
		rounds := map[uint64]bool{}
		_, err := run2(testConfig(2), roots, edges[:1], func(r, e *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return Iterate(r, func(s *Scope, v *Collection[uint32, uint32]) *Collection[uint32, uint32] {
				v = Inspect(v, func(rec Record[uint32, uint32]) {
					mu.Lock()
					defer mu.Unlock()
					rounds[rec.Time.Round] = true
				})
				hop := Map(Join(v, Enter(s, e)), "hop", func(_ uint32, p Pair[uint32, uint32]) (uint32, uint32) {
					return p.Second, p.Second
				})
				return Distinct(Concat(v, hop))
			})
		})
		Expect(err).NotTo(HaveOccurred())
		// the chain 1->2->3 needs a round per hop
		Expect(rounds).To(HaveKey(uint64(0)))
		Expect(rounds).To(HaveKey(uint64(1)))
		Expect(rounds).To(HaveKey(uint64(2)))
	})

	It("should return the initial value if the body is the identity", func() {
		out, err := run1(testConfig(2), epochs[uint32, uint32]{{{1, 2, 1}, {3, 4, 2}}}, func(c *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return Iterate(c, func(_ *Scope, v *Collection[uint32, uint32]) *Collection[uint32, uint32] { return v })
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Final().Multiplicity(3, 4)).To(Equal(int64(2)))
	})

	It("should produce nothing from an empty initial value", func() {
		out, err := run2(testConfig(2), epochs[uint32, uint32]{{}}, edges, func(r, e *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return reach(r, e)
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Len()).To(Equal(0))
	})

	It("should fail with ErrDivergence when the round bound is exceeded", func() {
		_, err := run1(testConfig(2), epochs[uint32, uint32]{{{1, 0, 1}}}, func(c *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return Iterate(c, func(_ *Scope, v *Collection[uint32, uint32]) *Collection[uint32, uint32] {
				return Map(v, "inc", func(k, v uint32) (uint32, uint32) { return k, v + 1 })
			}, WithMaxRounds(10), WithScopeName("counter"))
		})
		Expect(err).To(MatchError(ErrDivergence))
		Expect(err.Error()).To(ContainSubstring("counter"))
	})

	Context("with an invalid graph", func() {
		It("should reject nested scopes", func() {
			err := buildGraph(func(g *Graph) {
				c, _ := NewInput[uint32, uint32](g, "in")
				Iterate(c, func(_ *Scope, v *Collection[uint32, uint32]) *Collection[uint32, uint32] {
					return Iterate(v, func(_ *Scope, w *Collection[uint32, uint32]) *Collection[uint32, uint32] { return w })
				})
			})
			Expect(err).To(MatchError(ErrInvalidGraph))
			Expect(IsInvalidGraph(err)).To(BeTrue())
		})

		It("should reject a body returning an outer collection", func() {
			err := buildGraph(func(g *Graph) {
				c, _ := NewInput[uint32, uint32](g, "in")
				Iterate(c, func(_ *Scope, _ *Collection[uint32, uint32]) *Collection[uint32, uint32] { return c })
			})
			Expect(err).To(MatchError(ErrInvalidGraph))
		})

		It("should reject using an outer collection without entering it", func() {
			err := buildGraph(func(g *Graph) {
				c, _ := NewInput[uint32, uint32](g, "in")
				Iterate(c, func(_ *Scope, v *Collection[uint32, uint32]) *Collection[uint32, uint32] {
					return Concat(v, c)
				})
			})
			Expect(err).To(MatchError(ErrInvalidGraph))
		})

		It("should reject entering an inner collection", func() {
			err := buildGraph(func(g *Graph) {
				c, _ := NewInput[uint32, uint32](g, "in")
				Iterate(c, func(s *Scope, v *Collection[uint32, uint32]) *Collection[uint32, uint32] {
					return Enter(s, v)
				})
			})
			Expect(err).To(MatchError(ErrInvalidGraph))
		})

		It("should reject inputs inside a scope", func() {
			err := buildGraph(func(g *Graph) {
				c, _ := NewInput[uint32, uint32](g, "in")
				Iterate(c, func(s *Scope, v *Collection[uint32, uint32]) *Collection[uint32, uint32] {
					_, _ = NewInput[uint32, uint32](s.Graph(), "inner")
					return v
				})
			})
			Expect(err).To(MatchError(ErrInvalidGraph))
		})
	})
})
