package dbsp

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/ddflow/pkg/progress"
)

var _ = Describe("Reduce", func() {
	minimum := func(c *Collection[uint32, uint32]) *Collection[uint32, uint32] { return Min(c) }

	It("should keep the least value of every key", func() {
		out, err := run1(testConfig(1), epochs[uint32, uint32]{
			{{1, 5, 1}, {1, 3, 1}, {1, 9, 2}, {2, 7, 1}},
		}, minimum)
		Expect(err).NotTo(HaveOccurred())

		final := out.Final()
		Expect(final.Len()).To(Equal(2))
		Expect(final.Multiplicity(1, 3)).To(Equal(int64(1)))
		Expect(final.Multiplicity(2, 7)).To(Equal(int64(1)))
	})

	It("should emit only changes", func() {
		out, err := run1(testConfig(1), epochs[uint32, uint32]{
			{{1, 5, 1}},
			{{1, 7, 1}},
			{{1, 2, 1}},
		}, minimum)
		Expect(err).NotTo(HaveOccurred())

		Expect(out.Records()).To(ConsistOf(
			Record[uint32, uint32]{Key: 1, Val: 5, Time: progress.Time{Epoch: 0}, Diff: 1},
			Record[uint32, uint32]{Key: 1, Val: 5, Time: progress.Time{Epoch: 2}, Diff: -1},
			Record[uint32, uint32]{Key: 1, Val: 2, Time: progress.Time{Epoch: 2}, Diff: 1},
		))
	})

	It("should recompute the aggregate on retraction", func() {
		out, err := run1(testConfig(1), epochs[uint32, uint32]{
			{{1, 5, 1}, {1, 3, 1}},
			{{1, 3, -1}},
		}, minimum)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.At(progress.Time{Epoch: 0}).Multiplicity(1, 3)).To(Equal(int64(1)))
		final := out.Final()
		Expect(final.Len()).To(Equal(1))
		Expect(final.Multiplicity(1, 5)).To(Equal(int64(1)))
	})

	It("should retract the output of a key whose input became empty", func() {
		out, err := run1(testConfig(1), epochs[uint32, uint32]{
			{{1, 5, 1}},
			{{1, 5, -1}},
		}, minimum)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Records()).To(HaveLen(2))
		Expect(out.Final().IsZero()).To(BeTrue())
	})

	It("should pass the sorted values of a key to the reducer", func() {
		sorted := true
		out, err := run1(testConfig(1), epochs[uint32, uint32]{
			{{1, 5, 1}, {1, 3, 2}, {2, 4, 1}},
			{{1, 4, 1}},
		}, func(c *Collection[uint32, uint32]) *Collection[uint32, int64] {
			return Reduce[uint32, uint32, int64](c, "sum", func(_ uint32, vals []IndexEntry[uint32]) []IndexEntry[int64] {
				sum := int64(0)
				for i, e := range vals {
					if i > 0 && vals[i-1].Val >= e.Val {
						sorted = false
					}
					sum += int64(e.Val) * e.Diff
				}
				return []IndexEntry[int64]{{Val: sum, Diff: 1}}
			})
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(sorted).To(BeTrue())

		final := out.Final()
		Expect(final.Len()).To(Equal(2))
		Expect(final.Multiplicity(1, 15)).To(Equal(int64(1)))
		Expect(final.Multiplicity(2, 4)).To(Equal(int64(1)))
	})

	It("should match the output of a single worker on several workers", func() {
		in := epochs[uint32, uint32]{}
		for e := uint32(0); e < 3; e++ {
			b := Batch[uint32, uint32]{}
			for k := uint32(0); k < 30; k++ {
				b = append(b, Update[uint32, uint32]{Key: k % 7, Val: (k*13 + e*5) % 17, Diff: 1})
			}
			if e > 0 {
				b = append(b, neg(in[e-1][:15])...)
			}
			in = append(in, b)
		}

		one, err := run1(testConfig(1), in, minimum)
		Expect(err).NotTo(HaveOccurred())
		three, err := run1(testConfig(3), in, minimum)
		Expect(err).NotTo(HaveOccurred())
		Expect(three.Final().Equal(one.Final())).To(BeTrue())
		Expect(three.Final().Len()).To(Equal(7))
	})
})

var _ = Describe("Distinct", func() {
	distinct := func(c *Collection[uint32, uint32]) *Collection[uint32, uint32] { return Distinct(c) }

	It("should collapse multiplicities to one", func() {
		out, err := run1(testConfig(1), epochs[uint32, uint32]{
			{{1, 5, 3}, {1, 6, 1}, {2, 5, 2}},
		}, distinct)
		Expect(err).NotTo(HaveOccurred())

		final := out.Final()
		Expect(final.Len()).To(Equal(3))
		Expect(final.Multiplicity(1, 5)).To(Equal(int64(1)))
		Expect(final.Multiplicity(2, 5)).To(Equal(int64(1)))
	})

	It("should not emit when a multiplicity changes but stays positive", func() {
		out, err := run1(testConfig(1), epochs[uint32, uint32]{
			{{1, 5, 1}},
			{{1, 5, 2}},
			{{1, 5, -3}},
		}, distinct)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Records()).To(ConsistOf(
			Record[uint32, uint32]{Key: 1, Val: 5, Time: progress.Time{Epoch: 0}, Diff: 1},
			Record[uint32, uint32]{Key: 1, Val: 5, Time: progress.Time{Epoch: 2}, Diff: -1},
		))
	})

	It("should drop the state of retracted records", func() {
		var g *Graph
		out, err := run1(testConfig(1), epochs[uint32, uint32]{
			{{1, 5, 1}, {1, 6, 2}, {2, 5, 1}},
			{{1, 5, -1}, {1, 6, -2}},
		}, func(c *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			g = c.graph
			return Distinct(c)
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Final().Len()).To(Equal(1))

		entries := 0
		for _, n := range g.Plan().Nodes {
			if n.Kind == OpDistinct {
				entries += n.Entries
			}
		}
		// (2, 5) in the input and in the output index
		Expect(entries).To(Equal(2))
	})

	It("should drop records with a negative multiplicity", func() {
		out, err := run1(testConfig(2), epochs[uint32, uint32]{
			{{1, 5, -1}, {2, 6, 1}},
		}, distinct)
		Expect(err).NotTo(HaveOccurred())
		final := out.Final()
		Expect(final.Len()).To(Equal(1))
		Expect(final.Multiplicity(2, 6)).To(Equal(int64(1)))
	})
})
