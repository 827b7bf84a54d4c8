package dbsp

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/ddflow/pkg/progress"
)

var _ = Describe("Linear operators", func() {
	in := epochs[uint32, uint32]{
		{{1, 10, 1}, {2, 20, 1}, {3, 30, 2}},
		{{2, 20, -1}, {4, 40, 1}},
	}

	It("should map every record", func() {
		out, err := run1(testConfig(1), in, func(c *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return Map(c, "swap", func(k, v uint32) (uint32, uint32) { return v, k })
		})
		Expect(err).NotTo(HaveOccurred())

		at0 := out.At(progress.Time{Epoch: 0})
		Expect(at0.Len()).To(Equal(3))
		Expect(at0.Multiplicity(30, 3)).To(Equal(int64(2)))

		final := out.Final()
		Expect(final.Len()).To(Equal(3))
		Expect(final.Multiplicity(20, 2)).To(Equal(int64(0)))
		Expect(final.Multiplicity(40, 4)).To(Equal(int64(1)))
	})

	It("should consolidate records mapped onto the same pair", func() {
		out, err := run1(testConfig(1), in[:1], func(c *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return Map(c, "const", func(k, v uint32) (uint32, uint32) { return 0, 0 })
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Records()).To(HaveLen(1))
		Expect(out.Records()[0].Diff).To(Equal(int64(4)))
	})

	It("should filter", func() {
		out, err := run1(testConfig(1), in, func(c *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return Filter(c, "even", func(k, _ uint32) bool { return k%2 == 0 })
		})
		Expect(err).NotTo(HaveOccurred())
		final := out.Final()
		Expect(final.Len()).To(Equal(1))
		Expect(final.Multiplicity(4, 40)).To(Equal(int64(1)))
	})

	It("should concatenate and negate", func() {
		out, err := run1(testConfig(1), in, func(c *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			doubled := Concat(c, c)
			return Concat(doubled, Negate(c))
		})
		Expect(err).NotTo(HaveOccurred())
		final := out.Final()
		Expect(final.Len()).To(Equal(3))
		Expect(final.Multiplicity(3, 30)).To(Equal(int64(2)))
	})

	It("should inspect updates with their times", func() {
		var seen []Record[uint32, uint32]
		_, err := run1(testConfig(1), in, func(c *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return Inspect(c, func(r Record[uint32, uint32]) { seen = append(seen, r) })
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(HaveLen(5))
		Expect(seen).To(ContainElement(Record[uint32, uint32]{Key: 2, Val: 20, Time: progress.Time{Epoch: 1}, Diff: -1}))
	})

	It("should produce the same output on several workers", func() {
		build := func(c *Collection[uint32, uint32]) *Collection[uint32, uint32] {
			return Map(c, "inc", func(k, v uint32) (uint32, uint32) { return k, v + 1 })
		}
		one, err := run1(testConfig(1), in, build)
		Expect(err).NotTo(HaveOccurred())
		three, err := run1(testConfig(3), in, build)
		Expect(err).NotTo(HaveOccurred())
		Expect(three.Final().Equal(one.Final())).To(BeTrue())
	})
})
