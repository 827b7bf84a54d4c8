package dbsp

import (
	"errors"
	"fmt"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/ddflow/pkg/progress"
)

type joined = Pair[uint32, string]

func join(l *Collection[uint32, uint32], r *Collection[uint32, string]) *Collection[uint32, joined] {
	return Join(l, r)
}

var _ = Describe("Join", func() {
	It("should join matching keys", func() {
		out, err := run2(testConfig(1),
			epochs[uint32, uint32]{{{1, 10, 1}, {2, 20, 1}}},
			epochs[uint32, string]{{{1, "a", 1}, {3, "c", 1}}},
			join)
		Expect(err).NotTo(HaveOccurred())

		final := out.Final()
		Expect(final.Len()).To(Equal(1))
		Expect(final.Multiplicity(1, joined{10, "a"})).To(Equal(int64(1)))
	})

	It("should multiply multiplicities", func() {
		out, err := run2(testConfig(1),
			epochs[uint32, uint32]{{{1, 10, 2}, {1, 11, 1}}},
			epochs[uint32, string]{{{1, "a", 3}}},
			join)
		Expect(err).NotTo(HaveOccurred())

		final := out.Final()
		Expect(final.Multiplicity(1, joined{10, "a"})).To(Equal(int64(6)))
		Expect(final.Multiplicity(1, joined{11, "a"})).To(Equal(int64(3)))
	})

	It("should count matches arriving at the same time once", func() {
		out, err := run2(testConfig(1),
			epochs[uint32, uint32]{{{1, 10, 1}}, {{2, 20, 1}}},
			epochs[uint32, string]{{{1, "a", 1}}, {{2, "b", 1}, {1, "c", 1}}},
			join)
		Expect(err).NotTo(HaveOccurred())

		at0 := out.At(progress.Time{Epoch: 0})
		Expect(at0.Len()).To(Equal(1))
		Expect(at0.Multiplicity(1, joined{10, "a"})).To(Equal(int64(1)))

		final := out.Final()
		Expect(final.Len()).To(Equal(3))
		Expect(final.Multiplicity(2, joined{20, "b"})).To(Equal(int64(1)))
		Expect(final.Multiplicity(1, joined{10, "c"})).To(Equal(int64(1)))
	})

	It("should retract matches", func() {
		var g *Graph
		out, err := run2(testConfig(1),
			epochs[uint32, uint32]{{{1, 10, 1}, {1, 11, 1}}, {{1, 11, -1}}},
			epochs[uint32, string]{{{1, "a", 1}}, {}, {{1, "a", -1}}},
			func(l *Collection[uint32, uint32], r *Collection[uint32, string]) *Collection[uint32, joined] {
				g = l.graph
				return join(l, r)
			})
		Expect(err).NotTo(HaveOccurred())

		at1 := out.At(progress.Time{Epoch: 1})
		Expect(at1.Len()).To(Equal(1))
		Expect(at1.Multiplicity(1, joined{10, "a"})).To(Equal(int64(1)))
		Expect(out.Final().IsZero()).To(BeTrue())

		// only (1, 10) is left, in the left index
		for _, n := range g.Plan().Nodes {
			if n.Kind == OpJoin {
				Expect(n.Entries).To(Equal(1))
			}
		}
	})

	It("should match the output of a single worker on several workers", func() {
		rnd := rand.New(rand.NewSource(7))
		left, right := epochs[uint32, uint32]{}, epochs[uint32, string]{}
		for e := 0; e < 4; e++ {
			lb, rb := Batch[uint32, uint32]{}, Batch[uint32, string]{}
			for i := 0; i < 50; i++ {
				lb = append(lb, Update[uint32, uint32]{Key: uint32(rnd.Intn(20)), Val: uint32(rnd.Intn(5)), Diff: 1})
				rb = append(rb, Update[uint32, string]{Key: uint32(rnd.Intn(20)), Val: fmt.Sprintf("v%d", rnd.Intn(5)), Diff: 1})
			}
			if e > 0 {
				// retract part of the previous epoch
				lb = append(lb, neg(left[e-1][:10])...)
			}
			left, right = append(left, lb), append(right, rb)
		}

		one, err := run2(testConfig(1), left, right, join)
		Expect(err).NotTo(HaveOccurred())
		four, err := run2(testConfig(4), left, right, join)
		Expect(err).NotTo(HaveOccurred())

		Expect(one.Final().IsZero()).To(BeFalse())
		Expect(four.Final().Equal(one.Final())).To(BeTrue())
		for e := uint64(0); e < 4; e++ {
			t := progress.Time{Epoch: e}
			Expect(four.At(t).Equal(one.At(t))).To(BeTrue(), "epoch %d", e)
		}
	})

	It("should fail when an index exceeds its limit", func() {
		cfg := testConfig(2)
		cfg.Limits.MaxIndexEntries = 5
		b := Batch[uint32, uint32]{}
		for i := uint32(0); i < 20; i++ {
			b = append(b, Update[uint32, uint32]{Key: 1, Val: i, Diff: 1})
		}
		_, err := run2(cfg, epochs[uint32, uint32]{b}, epochs[uint32, string]{{{1, "a", 1}}}, join)
		Expect(err).To(MatchError(ErrResourceExhausted))

		var oe *OperatorError
		Expect(errors.As(err, &oe)).To(BeTrue())
		Expect(oe.Op).To(HavePrefix("join"))
	})
})
