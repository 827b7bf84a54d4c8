package dbsp

import (
	"context"
	"fmt"

	"github.com/l7mp/ddflow/pkg/config"
	"github.com/l7mp/ddflow/pkg/exchange"
	"github.com/l7mp/ddflow/pkg/progress"
)

// Scope is an iteration scope: a nested graph whose operators run at times (epoch, round) and
// whose variable is fed back from the body output of the previous round.
//
// Across epochs the scope is lifted with D ∘ F ∘ I: at round 0 of every epoch the entered
// collections and the initial value are replayed as their full accumulation into freshly reset
// inner operators, the rounds run to the fixpoint and the scope emits the difference between the
// new fixpoint and the previous one. Within an epoch rounds are incremental.
type Scope struct {
	name      string
	graph     *Graph
	parent    *Graph
	enters    []entered
	maxRounds uint64
}

// ScopeOption customizes an iteration scope.
type ScopeOption func(s *Scope)

// WithMaxRounds bounds the number of rounds of a scope per epoch. Exceeding the bound fails the
// computation with ErrDivergence.
func WithMaxRounds(n uint64) ScopeOption {
	return func(s *Scope) {
		if n > 0 {
			s.maxRounds = n
		}
	}
}

// WithScopeName sets the name of the scope, used in logs, metrics and the execution plan.
func WithScopeName(name string) ScopeOption {
	return func(s *Scope) {
		if name != "" {
			s.name = name
		}
	}
}

// Name returns the name of the scope.
func (s *Scope) Name() string { return s.name }

// Graph returns the nested graph of the scope.
func (s *Scope) Graph() *Graph { return s.graph }

// MaxRounds returns the round bound of the scope.
func (s *Scope) MaxRounds() uint64 { return s.maxRounds }

// entered is the untyped view of an enter operator.
type entered interface {
	// absorb integrates the outer delta of the current epoch and reports whether it was non-empty.
	absorb() bool
	forget()
	producer() int
}

type enterOp[K, V comparable] struct {
	baseOp
	outer *Collection[K, V]
	acc   *ZSet[K, V]
	out   *Collection[K, V]
}

// Enter brings a collection of the enclosing graph into an iteration scope. Inside the scope the
// collection is constant across rounds.
func Enter[K, V comparable](s *Scope, outer *Collection[K, V]) *Collection[K, V] {
	g := s.graph
	if outer.graph != s.parent {
		g.fail("enter %s: collection does not belong to the graph enclosing scope %s", outer.name, s.name)
		return newCollection[K, V](g, -1, outer.name)
	}
	if !g.owns("enter " + outer.name) {
		return newCollection[K, V](g, -1, outer.name)
	}

	op := &enterOp[K, V]{baseOp: newBaseOp(g, OpEnter, "enter:"+outer.name), outer: outer, acc: NewZSet[K, V]()}
	id := g.add(op)
	op.out = newCollection[K, V](g, id, outer.name)
	s.enters = append(s.enters, op)
	return op.out
}

func (op *enterOp[K, V]) absorb() bool {
	op.acc.AddBatch(op.outer.batch)
	return len(op.outer.batch) > 0
}

func (op *enterOp[K, V]) forget() { op.acc = NewZSet[K, V]() }

// Step replays the accumulated outer collection at round 0. The integrated outer collection
// belongs to the enclosing time, so Reset keeps it.
func (op *enterOp[K, V]) Step(_ context.Context, t progress.Time) error {
	if t.Round > 0 {
		op.out.set(nil)
		return nil
	}
	b := op.acc.Batch()
	op.out.set(b)
	op.observe(len(b))
	return nil
}

// variableOp emits the delta of the loop variable set by the scope before each round.
type variableOp[K, V comparable] struct {
	baseOp
	next Batch[K, V]
	out  *Collection[K, V]
}

func (op *variableOp[K, V]) Step(_ context.Context, _ progress.Time) error {
	op.out.set(op.next)
	op.observe(len(op.next))
	op.next = nil
	return nil
}

func (op *variableOp[K, V]) Reset() { op.next = nil }

type iterateOp[K, V comparable] struct {
	baseOp
	scope    *Scope
	initial  *Collection[K, V]
	variable *variableOp[K, V]
	result   *Collection[K, V]
	out      *Collection[K, V]
	channel  string

	initAcc   *ZSet[K, V] // accumulated initial value
	prevFinal *ZSet[K, V] // fixpoint of the previous epoch
}

// Iterate repeatedly applies body to a collection, starting from initial, until the collection
// stops changing on every worker, and returns the fixpoint. The body is called once to build the
// nested graph of the scope; collections of the enclosing graph are brought in with Enter.
// Iteration scopes cannot be nested.
func Iterate[K, V comparable](initial *Collection[K, V], body func(s *Scope, v *Collection[K, V]) *Collection[K, V], opts ...ScopeOption) *Collection[K, V] {
	g := initial.graph
	if g.parent != nil {
		g.fail("iterate: nested iteration scopes are not supported (in %s)", g.path)
		return newCollection[K, V](g, -1, "iterate")
	}
	if !g.owns("iterate", initial.graph) {
		return newCollection[K, V](g, -1, "iterate")
	}

	s := &Scope{
		name:      "scope",
		parent:    g,
		maxRounds: g.worker.cfg.Limits.MaxRounds,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxRounds == 0 {
		s.maxRounds = config.DefaultMaxRounds
	}
	// the operator id keeps the channels of equally named scopes apart
	s.graph = newGraph(g.worker, fmt.Sprintf("%s-%d", s.name, len(g.ops)), g)
	s.graph.scope = s

	v := &variableOp[K, V]{baseOp: newBaseOp(s.graph, OpVariable, "variable:"+initial.name)}
	vid := s.graph.add(v)
	v.out = newCollection[K, V](s.graph, vid, initial.name)

	result := body(s, v.out)
	if result == nil || result.graph != s.graph {
		s.graph.fail("iterate %s: the loop body must return a collection of the scope", s.name)
		return newCollection[K, V](g, -1, s.name)
	}

	op := &iterateOp[K, V]{
		baseOp:    newBaseOp(g, OpIterate, "iterate:"+s.name),
		scope:     s,
		initial:   initial,
		variable:  v,
		result:    result,
		initAcc:   NewZSet[K, V](),
		prevFinal: NewZSet[K, V](),
	}
	inputs := []int{initial.producer}
	for _, e := range s.enters {
		inputs = append(inputs, e.producer())
	}
	id := g.add(op, inputs...)
	op.channel = g.channel(id)
	op.out = newCollection[K, V](g, id, s.name)
	return op.out
}

func (op *enterOp[K, V]) producer() int { return op.outer.producer }

func (op *iterateOp[K, V]) inner() *Graph { return op.scope.graph }

func (op *iterateOp[K, V]) feedback() int { return op.result.producer }

func (op *iterateOp[K, V]) Step(ctx context.Context, t progress.Time) error {
	s, ep, log := op.scope, op.graph.worker.ep, op.scope.graph.log

	changed := len(op.initial.batch) > 0
	op.initAcc.AddBatch(op.initial.batch)
	for _, e := range s.enters {
		if e.absorb() {
			changed = true
		}
	}

	// the epoch can be skipped only if no worker saw new input
	changed, err := exchange.AllReduce(ctx, ep, op.channel+"/changed", t, changed,
		func(a, b bool) bool { return a || b })
	if err != nil {
		return err
	}
	if !changed {
		op.out.set(nil)
		return nil
	}

	s.graph.reset()
	fixpoint := NewZSet[K, V]()
	op.variable.next = op.initAcc.Batch()

	for r := uint64(0); ; r++ {
		ti := progress.Time{Epoch: t.Epoch, Round: r}
		if err := s.graph.step(ctx, ti); err != nil {
			return err
		}

		fixpoint.AddBatch(op.result.batch)
		next := FromBatch(op.result.batch)
		if r == 0 {
			next.Subtract(op.initAcc)
		}

		local := progress.Top
		if !next.IsZero() {
			local = ti.NextRound()
		}
		frontier, err := exchange.AllReduce(ctx, ep, op.channel+"/converge", ti, local, progress.Min)
		if err != nil {
			return err
		}
		op.graph.worker.metrics.ObserveRound(s.name)
		log.V(4).Info("round finished", "time", ti.String(), "feedback", next.Len(),
			"frontier", frontier.String())

		if frontier.IsTop() {
			log.V(2).Info("fixpoint reached", "epoch", t.Epoch, "rounds", r+1)
			break
		}
		if r+1 >= s.maxRounds {
			return fmt.Errorf("%w: scope %s did not converge within %d rounds",
				ErrDivergence, s.name, s.maxRounds)
		}

		op.variable.next = next.Batch()
	}

	delta := fixpoint.Clone()
	delta.Subtract(op.prevFinal)
	op.prevFinal = fixpoint

	b := delta.Batch()
	op.out.set(b)
	op.observe(len(b))
	return nil
}

func (op *iterateOp[K, V]) Reset() {
	op.scope.graph.reset()
	for _, e := range op.scope.enters {
		e.forget()
	}
	op.initAcc = NewZSet[K, V]()
	op.prevFinal = NewZSet[K, V]()
}
