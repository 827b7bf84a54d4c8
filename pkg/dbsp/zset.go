package dbsp

import (
	"fmt"
	"slices"
	"strings"
)

// Update is a single change to a collection: a (key, value) pair with a signed multiplicity.
type Update[K, V comparable] struct {
	Key  K
	Val  V
	Diff int64
}

// Batch is a list of updates that an operator consumes or produces at one time.
type Batch[K, V comparable] []Update[K, V]

// Consolidate sums the multiplicities of equal (key, value) pairs and drops the ones that cancel.
func (b Batch[K, V]) Consolidate() Batch[K, V] {
	if len(b) == 0 {
		return nil
	}
	z := NewZSet[K, V]()
	z.AddBatch(b)
	return z.Batch()
}

// Len returns the number of updates in the batch.
func (b Batch[K, V]) Len() int { return len(b) }

type pair[K, V comparable] struct {
	key K
	val V
}

// ZSet is a multiset of (key, value) pairs with integer multiplicities. Pairs whose multiplicity
// sums to zero are absent.
type ZSet[K, V comparable] struct {
	counts map[pair[K, V]]int64
}

// NewZSet creates an empty Z-set.
func NewZSet[K, V comparable]() *ZSet[K, V] {
	return &ZSet[K, V]{counts: make(map[pair[K, V]]int64)}
}

// Add adds diff to the multiplicity of (key, val).
func (z *ZSet[K, V]) Add(key K, val V, diff int64) {
	if diff == 0 {
		return
	}
	p := pair[K, V]{key: key, val: val}
	c := z.counts[p] + diff
	if c == 0 {
		delete(z.counts, p)
		return
	}
	z.counts[p] = c
}

// AddBatch adds every update of a batch.
func (z *ZSet[K, V]) AddBatch(b Batch[K, V]) {
	for _, u := range b {
		z.Add(u.Key, u.Val, u.Diff)
	}
}

// Merge performs Z-set addition in place.
func (z *ZSet[K, V]) Merge(other *ZSet[K, V]) {
	if other == nil {
		return
	}
	for p, c := range other.counts {
		z.Add(p.key, p.val, c)
	}
}

// Subtract performs Z-set subtraction in place.
func (z *ZSet[K, V]) Subtract(other *ZSet[K, V]) {
	if other == nil {
		return
	}
	for p, c := range other.counts {
		z.Add(p.key, p.val, -c)
	}
}

// Negate returns a new Z-set with all multiplicities negated.
func (z *ZSet[K, V]) Negate() *ZSet[K, V] {
	ret := NewZSet[K, V]()
	for p, c := range z.counts {
		ret.counts[p] = -c
	}
	return ret
}

// Clone returns a copy of the Z-set.
func (z *ZSet[K, V]) Clone() *ZSet[K, V] {
	ret := &ZSet[K, V]{counts: make(map[pair[K, V]]int64, len(z.counts))}
	for p, c := range z.counts {
		ret.counts[p] = c
	}
	return ret
}

// Positive converts the Z-set to set semantics: pairs with a positive multiplicity get
// multiplicity 1, the rest are dropped.
func (z *ZSet[K, V]) Positive() *ZSet[K, V] {
	ret := NewZSet[K, V]()
	for p, c := range z.counts {
		if c > 0 {
			ret.counts[p] = 1
		}
	}
	return ret
}

// Multiplicity returns the multiplicity of (key, val).
func (z *ZSet[K, V]) Multiplicity(key K, val V) int64 {
	return z.counts[pair[K, V]{key: key, val: val}]
}

// IsZero reports whether the Z-set is empty.
func (z *ZSet[K, V]) IsZero() bool { return len(z.counts) == 0 }

// Len returns the number of distinct pairs with a non-zero multiplicity.
func (z *ZSet[K, V]) Len() int { return len(z.counts) }

// Batch returns the contents of the Z-set as a batch of updates.
func (z *ZSet[K, V]) Batch() Batch[K, V] {
	if len(z.counts) == 0 {
		return nil
	}
	ret := make(Batch[K, V], 0, len(z.counts))
	for p, c := range z.counts {
		ret = append(ret, Update[K, V]{Key: p.key, Val: p.val, Diff: c})
	}
	return ret
}

// Equal reports whether two Z-sets have the same contents.
func (z *ZSet[K, V]) Equal(other *ZSet[K, V]) bool {
	if len(z.counts) != len(other.counts) {
		return false
	}
	for p, c := range z.counts {
		if other.counts[p] != c {
			return false
		}
	}
	return true
}

// String returns a string representation of the Z-set for debugging.
func (z *ZSet[K, V]) String() string {
	if z.IsZero() {
		return "∅"
	}
	parts := make([]string, 0, len(z.counts))
	for p, c := range z.counts {
		parts = append(parts, fmt.Sprintf("(%v,%v)×%d", p.key, p.val, c))
	}
	slices.Sort(parts)
	return "{" + strings.Join(parts, ", ") + "}"
}

// FromBatch creates a Z-set from a batch.
func FromBatch[K, V comparable](b Batch[K, V]) *ZSet[K, V] {
	z := NewZSet[K, V]()
	z.AddBatch(b)
	return z
}
