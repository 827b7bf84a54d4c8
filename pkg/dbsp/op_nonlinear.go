package dbsp

import (
	"cmp"
	"context"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/l7mp/ddflow/pkg/progress"
)

// ReduceFunc computes the output values of a key from the key's net input values. The input is
// sorted by value and never empty; entries with a zero multiplicity are never passed.
type ReduceFunc[K comparable, V, R cmp.Ordered] func(key K, vals []IndexEntry[V]) []IndexEntry[R]

// reduceOp is the incremental version of a per-key aggregation. A non-linear operator cannot be
// applied to deltas directly, so the operator integrates its input into an index, re-evaluates
// the aggregate of every key touched at the current time and differentiates the result against
// the previous output of the key: this is F^Δ = D ∘ F ∘ I restricted to the touched keys.
type reduceOp[K comparable, V, R cmp.Ordered] struct {
	baseOp
	fn   ReduceFunc[K, V, R]
	in   *Collection[K, V]
	out  *Collection[K, R]
	inx  *Index[K, V]
	outx *Index[K, R]
}

// Reduce groups a collection by key and applies fn to the values of every key. Only the changes
// of the output are emitted. The input is exchanged by key first.
func Reduce[K comparable, V, R cmp.Ordered](in *Collection[K, V], name string, fn ReduceFunc[K, V, R]) *Collection[K, R] {
	return reduceWith(in, OpReduce, name, fn)
}

func reduceWith[K comparable, V, R cmp.Ordered](in *Collection[K, V], kind OpKind, name string, fn ReduceFunc[K, V, R]) *Collection[K, R] {
	g := in.graph
	if name == "" {
		name = kind.String()
	}
	if !g.owns(name, in.graph) {
		return newCollection[K, R](g, -1, name)
	}

	x := Exchange(in)
	limit := g.worker.cfg.Limits.MaxIndexEntries
	op := &reduceOp[K, V, R]{
		baseOp: newBaseOp(g, kind, name+":"+in.name),
		fn:     fn,
		in:     x,
		inx:    NewIndex[K, V](name+"/in", limit),
		outx:   NewIndex[K, R](name+"/out", limit),
	}
	id := g.add(op, x.producer)
	op.out = newCollection[K, R](g, id, name)
	return op.out
}

func (op *reduceOp[K, V, R]) Step(_ context.Context, t progress.Time) error {
	if len(op.in.batch) == 0 {
		op.out.set(nil)
		return nil
	}

	touched := sets.New[K]()
	for _, u := range op.in.batch {
		touched.Insert(u.Key)
	}
	if err := op.inx.Update(op.in.batch); err != nil {
		return err
	}

	z := NewZSet[K, R]()
	for key := range touched {
		if vals := op.inx.Lookup(key); len(vals) > 0 {
			for _, e := range op.fn(key, vals) {
				z.Add(key, e.Val, e.Diff)
			}
		}
		for _, e := range op.outx.Lookup(key) {
			z.Add(key, e.Val, -e.Diff)
		}
	}

	b := z.Batch()
	if err := op.outx.Update(b); err != nil {
		return err
	}

	op.graph.log.V(6).Info("reduce step", "op", op.name, "time", t.String(),
		"keys", touched.Len(), "out", len(b))
	op.out.set(b)
	op.observe(len(b))
	return nil
}

func (op *reduceOp[K, V, R]) Reset() {
	op.inx.Reset()
	op.outx.Reset()
}

func (op *reduceOp[K, V, R]) entries() int { return op.inx.Len() + op.outx.Len() }

// Min keeps, for every key, the least value with a positive multiplicity.
func Min[K comparable, V cmp.Ordered](in *Collection[K, V]) *Collection[K, V] {
	return Reduce[K, V, V](in, "min", func(_ K, vals []IndexEntry[V]) []IndexEntry[V] {
		for _, e := range vals {
			if e.Diff > 0 {
				return []IndexEntry[V]{{Val: e.Val, Diff: 1}}
			}
		}
		return nil
	})
}

// Distinct collapses the multiplicity of every record with a positive multiplicity to one and
// drops the rest.
func Distinct[K comparable, V cmp.Ordered](in *Collection[K, V]) *Collection[K, V] {
	return reduceWith[K, V, V](in, OpDistinct, "distinct", func(_ K, vals []IndexEntry[V]) []IndexEntry[V] {
		ret := make([]IndexEntry[V], 0, len(vals))
		for _, e := range vals {
			if e.Diff > 0 {
				ret = append(ret, IndexEntry[V]{Val: e.Val, Diff: 1})
			}
		}
		return ret
	})
}
