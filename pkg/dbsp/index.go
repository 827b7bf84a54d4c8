package dbsp

import (
	"cmp"
	"fmt"
	"slices"

	"k8s.io/apimachinery/pkg/util/sets"
)

// IndexEntry is a value with its net multiplicity.
type IndexEntry[V any] struct {
	Val  V
	Diff int64
}

// keyTrace holds the history of one key: a compacted, value-sorted list of entries plus the
// updates appended since the last compaction.
type keyTrace[V cmp.Ordered] struct {
	entries []IndexEntry[V]
	pending []IndexEntry[V]
}

// Index maps each key to the sorted list of its values with non-zero net multiplicity. Updates
// are appended to a per-key log and compacted lazily, the first time the key is looked up, so a
// batch touching a key many times is sorted and consolidated once.
type Index[K comparable, V cmp.Ordered] struct {
	name  string
	keys  map[K]*keyTrace[V]
	dirty sets.Set[K]
	size  int // compacted entries plus pending updates
	limit int
}

// NewIndex creates an empty index. A positive limit bounds the number of live entries.
func NewIndex[K comparable, V cmp.Ordered](name string, limit int) *Index[K, V] {
	return &Index[K, V]{
		name:  name,
		keys:  make(map[K]*keyTrace[V]),
		dirty: sets.New[K](),
		limit: limit,
	}
}

// Update appends a batch of updates. It returns ErrResourceExhausted if the index would hold more
// live entries than its limit even after compaction.
func (ix *Index[K, V]) Update(b Batch[K, V]) error {
	for _, u := range b {
		if u.Diff == 0 {
			continue
		}
		tr, ok := ix.keys[u.Key]
		if !ok {
			tr = &keyTrace[V]{}
			ix.keys[u.Key] = tr
		}
		tr.pending = append(tr.pending, IndexEntry[V]{Val: u.Val, Diff: u.Diff})
		ix.dirty.Insert(u.Key)
		ix.size++
	}

	if ix.limit > 0 && ix.size > ix.limit {
		ix.Compact()
		if ix.size > ix.limit {
			return fmt.Errorf("%w: index %s holds %d entries, limit is %d",
				ErrResourceExhausted, ix.name, ix.size, ix.limit)
		}
	}

	return nil
}

// Lookup returns the values of a key with their net multiplicities, sorted by value. The returned
// slice is owned by the index and must not be modified.
func (ix *Index[K, V]) Lookup(key K) []IndexEntry[V] {
	tr, ok := ix.keys[key]
	if !ok {
		return nil
	}
	if len(tr.pending) > 0 {
		ix.compactKey(key, tr)
		if len(tr.entries) == 0 {
			return nil
		}
	}
	return tr.entries
}

// Compact consolidates every key with pending updates.
func (ix *Index[K, V]) Compact() {
	for key := range ix.dirty {
		if tr, ok := ix.keys[key]; ok {
			ix.compactKey(key, tr)
		}
	}
	ix.dirty.Clear()
}

func (ix *Index[K, V]) compactKey(key K, tr *keyTrace[V]) {
	ix.size -= len(tr.entries) + len(tr.pending)

	all := append(tr.entries, tr.pending...)
	slices.SortStableFunc(all, func(a, b IndexEntry[V]) int { return cmp.Compare(a.Val, b.Val) })

	out := all[:0]
	for _, e := range all {
		if n := len(out); n > 0 && out[n-1].Val == e.Val {
			out[n-1].Diff += e.Diff
			if out[n-1].Diff == 0 {
				out = out[:n-1]
			}
			continue
		}
		out = append(out, e)
	}

	ix.dirty.Delete(key)
	if len(out) == 0 {
		tr.entries, tr.pending = nil, nil
		delete(ix.keys, key)
		return
	}

	tr.entries = slices.Clip(out)
	tr.pending = nil
	ix.size += len(tr.entries)
}

// Len returns the number of live entries, compacting first.
func (ix *Index[K, V]) Len() int {
	ix.Compact()
	return ix.size
}

// Keys returns the number of keys with at least one live entry, compacting first.
func (ix *Index[K, V]) Keys() int {
	ix.Compact()
	return len(ix.keys)
}

// Reset drops all state.
func (ix *Index[K, V]) Reset() {
	ix.keys = make(map[K]*keyTrace[V])
	ix.dirty = sets.New[K]()
	ix.size = 0
}
