package dbsp

import (
	"cmp"
	"context"

	"github.com/l7mp/ddflow/pkg/progress"
)

// joinOp implements an incremental equi-join. With L and R the accumulated inputs before the
// current time and ΔL, ΔR the deltas at the current time, the bilinear expansion gives
//
//	Δ(L ⋈ R) = ΔL ⋈ ΔR + L ⋈ ΔR + ΔL ⋈ R = ΔL ⋈ (R + ΔR) + L ⋈ ΔR
//
// so the right index is updated first, ΔL probes it, ΔR probes the stale left index and finally
// the left index is updated. Both deltas are handled in one pass and ΔL ⋈ ΔR is counted once.
type joinOp[K comparable, V1, V2 cmp.Ordered] struct {
	baseOp
	left  *Collection[K, V1]
	right *Collection[K, V2]
	out   *Collection[K, Pair[V1, V2]]
	lix   *Index[K, V1]
	rix   *Index[K, V2]
}

// Join matches the records of two collections on their keys and returns, for every key, the
// product of the value multisets. Both inputs are exchanged by key first.
func Join[K comparable, V1, V2 cmp.Ordered](left *Collection[K, V1], right *Collection[K, V2]) *Collection[K, Pair[V1, V2]] {
	g := left.graph
	if !g.owns("join", left.graph, right.graph) {
		return newCollection[K, Pair[V1, V2]](g, -1, "join")
	}

	l, r := Exchange(left), Exchange(right)
	limit := g.worker.cfg.Limits.MaxIndexEntries
	name := "join:" + left.name + "⋈" + right.name
	op := &joinOp[K, V1, V2]{
		baseOp: newBaseOp(g, OpJoin, name),
		left:   l,
		right:  r,
		lix:    NewIndex[K, V1](name+"/left", limit),
		rix:    NewIndex[K, V2](name+"/right", limit),
	}
	id := g.add(op, l.producer, r.producer)
	op.out = newCollection[K, Pair[V1, V2]](g, id, name)
	return op.out
}

func (op *joinOp[K, V1, V2]) Step(_ context.Context, t progress.Time) error {
	dl, dr := op.left.batch, op.right.batch
	if len(dl) == 0 && len(dr) == 0 {
		op.out.set(nil)
		return nil
	}

	if err := op.rix.Update(dr); err != nil {
		return err
	}

	z := NewZSet[K, Pair[V1, V2]]()
	for _, u := range dl {
		for _, e := range op.rix.Lookup(u.Key) {
			z.Add(u.Key, Pair[V1, V2]{First: u.Val, Second: e.Val}, u.Diff*e.Diff)
		}
	}
	for _, u := range dr {
		for _, e := range op.lix.Lookup(u.Key) {
			z.Add(u.Key, Pair[V1, V2]{First: e.Val, Second: u.Val}, e.Diff*u.Diff)
		}
	}

	if err := op.lix.Update(dl); err != nil {
		return err
	}

	b := z.Batch()
	op.graph.log.V(6).Info("join step", "op", op.name, "time", t.String(),
		"left", len(dl), "right", len(dr), "out", len(b))
	op.out.set(b)
	op.observe(len(b))
	return nil
}

func (op *joinOp[K, V1, V2]) Reset() {
	op.lix.Reset()
	op.rix.Reset()
}

func (op *joinOp[K, V1, V2]) entries() int { return op.lix.Len() + op.rix.Len() }
