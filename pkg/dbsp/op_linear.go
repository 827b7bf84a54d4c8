package dbsp

import (
	"context"

	"github.com/l7mp/ddflow/pkg/progress"
)

// Linear operators commute with Z-set addition, so applying them to a delta yields the delta of
// the output: they are their own incremental version and keep no state.

type mapOp[K, V, K2, V2 comparable] struct {
	baseOp
	fn  func(K, V) (K2, V2, bool)
	in  *Collection[K, V]
	out *Collection[K2, V2]
}

// Map transforms every record of a collection.
func Map[K, V, K2, V2 comparable](in *Collection[K, V], name string, fn func(K, V) (K2, V2)) *Collection[K2, V2] {
	return mapWith(in, name, func(k K, v V) (K2, V2, bool) {
		k2, v2 := fn(k, v)
		return k2, v2, true
	})
}

// Filter keeps the records for which pred returns true.
func Filter[K, V comparable](in *Collection[K, V], name string, pred func(K, V) bool) *Collection[K, V] {
	return mapWith(in, name, func(k K, v V) (K, V, bool) {
		return k, v, pred(k, v)
	})
}

func mapWith[K, V, K2, V2 comparable](in *Collection[K, V], name string, fn func(K, V) (K2, V2, bool)) *Collection[K2, V2] {
	g := in.graph
	g.owns("map "+name, in.graph)
	op := &mapOp[K, V, K2, V2]{baseOp: newBaseOp(g, OpMap, name), fn: fn, in: in}
	id := g.add(op, in.producer)
	op.out = newCollection[K2, V2](g, id, op.name)
	return op.out
}

func (op *mapOp[K, V, K2, V2]) Step(_ context.Context, _ progress.Time) error {
	if len(op.in.batch) == 0 {
		op.out.set(nil)
		return nil
	}
	z := NewZSet[K2, V2]()
	for _, u := range op.in.batch {
		if k, v, ok := op.fn(u.Key, u.Val); ok {
			z.Add(k, v, u.Diff)
		}
	}
	b := z.Batch()
	op.out.set(b)
	op.observe(len(b))
	return nil
}

type concatOp[K, V comparable] struct {
	baseOp
	ins []*Collection[K, V]
	out *Collection[K, V]
}

// Concat returns the Z-set sum of the given collections.
func Concat[K, V comparable](first *Collection[K, V], rest ...*Collection[K, V]) *Collection[K, V] {
	g := first.graph
	ins := append([]*Collection[K, V]{first}, rest...)
	ids := make([]int, 0, len(ins))
	graphs := make([]*Graph, 0, len(ins))
	for _, c := range ins {
		ids = append(ids, c.producer)
		graphs = append(graphs, c.graph)
	}
	g.owns("concat", graphs...)

	op := &concatOp[K, V]{baseOp: newBaseOp(g, OpConcat, ""), ins: ins}
	id := g.add(op, ids...)
	op.out = newCollection[K, V](g, id, "concat")
	return op.out
}

func (op *concatOp[K, V]) Step(_ context.Context, _ progress.Time) error {
	z := NewZSet[K, V]()
	for _, in := range op.ins {
		z.AddBatch(in.batch)
	}
	b := z.Batch()
	op.out.set(b)
	op.observe(len(b))
	return nil
}

type negateOp[K, V comparable] struct {
	baseOp
	in  *Collection[K, V]
	out *Collection[K, V]
}

// Negate flips the sign of every multiplicity.
func Negate[K, V comparable](in *Collection[K, V]) *Collection[K, V] {
	g := in.graph
	g.owns("negate", in.graph)
	op := &negateOp[K, V]{baseOp: newBaseOp(g, OpNegate, ""), in: in}
	id := g.add(op, in.producer)
	op.out = newCollection[K, V](g, id, "negate")
	return op.out
}

func (op *negateOp[K, V]) Step(_ context.Context, _ progress.Time) error {
	if len(op.in.batch) == 0 {
		op.out.set(nil)
		return nil
	}
	b := make(Batch[K, V], len(op.in.batch))
	for i, u := range op.in.batch {
		b[i] = Update[K, V]{Key: u.Key, Val: u.Val, Diff: -u.Diff}
	}
	op.out.set(b)
	op.observe(len(b))
	return nil
}

type inspectOp[K, V comparable] struct {
	baseOp
	fn  func(Record[K, V])
	in  *Collection[K, V]
	out *Collection[K, V]
}

// Inspect calls fn on every update of a collection, with the time it happens at, and passes the
// collection through unchanged.
func Inspect[K, V comparable](in *Collection[K, V], fn func(Record[K, V])) *Collection[K, V] {
	g := in.graph
	g.owns("inspect", in.graph)
	op := &inspectOp[K, V]{baseOp: newBaseOp(g, OpInspect, ""), fn: fn, in: in}
	id := g.add(op, in.producer)
	op.out = newCollection[K, V](g, id, in.name)
	return op.out
}

func (op *inspectOp[K, V]) Step(_ context.Context, t progress.Time) error {
	for _, u := range op.in.batch {
		op.fn(Record[K, V]{Key: u.Key, Val: u.Val, Time: t, Diff: u.Diff})
	}
	op.out.set(op.in.batch)
	return nil
}

// Capture sends every update of a collection into a collector.
func Capture[K, V comparable](in *Collection[K, V], c *Collector[K, V]) *Collection[K, V] {
	return Inspect(in, c.Push)
}
