package dbsp

import (
	"context"
	"fmt"

	"github.com/l7mp/ddflow/pkg/progress"
)

// inputHandle is the view the worker has on an input session.
type inputHandle interface {
	frontier() progress.Time
	horizon() uint64
	close()
}

// InputSession accepts insertions and retractions from outside the dataflow. Updates are tagged
// with the session's current epoch; AdvanceTo seals every earlier epoch, after which the worker
// may process them.
type InputSession[K, V comparable] struct {
	name     string
	epoch    uint64
	closed   bool
	pending  map[uint64]*ZSet[K, V]
	validate func(K, V) error
}

// NewInput creates an input collection in a top-level graph together with the session feeding it.
func NewInput[K, V comparable](g *Graph, name string) (*Collection[K, V], *InputSession[K, V]) {
	s := &InputSession[K, V]{name: name, pending: map[uint64]*ZSet[K, V]{}}

	if g.parent != nil {
		g.fail("input %s: inputs can only be created in a top-level graph", name)
	}
	g.owns("input " + name)

	op := &inputOp[K, V]{baseOp: newBaseOp(g, OpInput, "input:"+name), session: s}
	id := g.add(op)
	op.out = newCollection[K, V](g, id, name)

	if g.worker != nil {
		g.worker.sessions = append(g.worker.sessions, s)
	}

	return op.out, s
}

// Validate installs a check run on every update. Updates failing the check are rejected with
// ErrMalformedInput.
func (s *InputSession[K, V]) Validate(fn func(K, V) error) { s.validate = fn }

// Insert adds (key, val) with multiplicity 1 at the current epoch.
func (s *InputSession[K, V]) Insert(key K, val V) error { return s.Update(key, val, 1) }

// Retract removes (key, val) with multiplicity 1 at the current epoch.
func (s *InputSession[K, V]) Retract(key K, val V) error { return s.Update(key, val, -1) }

// Update adds diff to the multiplicity of (key, val) at the current epoch.
func (s *InputSession[K, V]) Update(key K, val V, diff int64) error {
	if s.closed {
		return fmt.Errorf("%w: input %s", ErrClosed, s.name)
	}
	if s.validate != nil {
		if err := s.validate(key, val); err != nil {
			return fmt.Errorf("%w: input %s: %w", ErrMalformedInput, s.name, err)
		}
	}
	z, ok := s.pending[s.epoch]
	if !ok {
		z = NewZSet[K, V]()
		s.pending[s.epoch] = z
	}
	z.Add(key, val, diff)
	return nil
}

// AdvanceTo announces that no further updates will be made at epochs below epoch.
func (s *InputSession[K, V]) AdvanceTo(epoch uint64) error {
	if s.closed {
		return fmt.Errorf("%w: input %s", ErrClosed, s.name)
	}
	if epoch < s.epoch {
		return fmt.Errorf("input %s: cannot advance to epoch %d from epoch %d", s.name, epoch, s.epoch)
	}
	s.epoch = epoch
	return nil
}

// Epoch returns the current epoch of the session.
func (s *InputSession[K, V]) Epoch() uint64 { return s.epoch }

// Close seals the current epoch and announces that no further updates will be made.
func (s *InputSession[K, V]) Close() { s.closed = true }

func (s *InputSession[K, V]) close() { s.Close() }

func (s *InputSession[K, V]) frontier() progress.Time {
	if s.closed {
		return progress.Top
	}
	return progress.Time{Epoch: s.epoch}
}

func (s *InputSession[K, V]) horizon() uint64 {
	if s.closed {
		return s.epoch + 1
	}
	return s.epoch
}

func (s *InputSession[K, V]) take(epoch uint64) Batch[K, V] {
	z, ok := s.pending[epoch]
	if !ok {
		return nil
	}
	delete(s.pending, epoch)
	return z.Batch()
}

type inputOp[K, V comparable] struct {
	baseOp
	session *InputSession[K, V]
	out     *Collection[K, V]
}

func (op *inputOp[K, V]) Step(_ context.Context, t progress.Time) error {
	b := op.session.take(t.Epoch)
	op.out.set(b)
	op.observe(len(b))
	return nil
}
