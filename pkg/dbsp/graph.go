package dbsp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/l7mp/ddflow/internal/dag"
	"github.com/l7mp/ddflow/pkg/progress"
)

// Graph is an explicit dataflow graph: operators are the nodes and typed collections the edges.
// Each worker builds its own copy of the same graph; because operators are numbered in creation
// order the copies agree on operator ids, schedules and exchange channel names.
type Graph struct {
	name   string
	path   string
	parent *Graph
	scope  *Scope
	worker *Worker
	ops    []Operator
	deps   *dag.Graph[int]
	order  []int
	sealed bool
	err    error
	log    logr.Logger
}

func newGraph(w *Worker, name string, parent *Graph) *Graph {
	g := &Graph{
		name:   name,
		path:   name,
		parent: parent,
		worker: w,
		deps:   dag.New[int](),
		log:    w.log.WithName(name),
	}
	if parent != nil {
		g.path = parent.path + "/" + name
		g.log = parent.log.WithName(name)
	}
	return g
}

// Name returns the name of the graph.
func (g *Graph) Name() string { return g.name }

// Worker returns the worker running the graph.
func (g *Graph) Worker() *Worker { return g.worker }

// Scope returns the iteration scope of a nested graph, or nil for the top-level graph.
func (g *Graph) Scope() *Scope { return g.scope }

// Err returns the first construction error.
func (g *Graph) Err() error { return g.err }

// fail records a construction error. Later operators are still created so that callers can keep
// composing; the error surfaces when the dataflow is started.
func (g *Graph) fail(format string, args ...any) {
	err := fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
	root := g
	for root.parent != nil {
		root = root.parent
	}
	if root.err == nil {
		root.err = err
	}
	if g.err == nil {
		g.err = err
	}
}

// owns checks that every collection belongs to g and that g is still open for construction.
func (g *Graph) owns(op string, cs ...*Graph) bool {
	if g.sealed {
		g.fail("%s: graph %s is already sealed", op, g.path)
		return false
	}
	for _, c := range cs {
		if c != g {
			g.fail("%s: collection does not belong to graph %s", op, g.path)
			return false
		}
	}
	return true
}

// add registers an operator with dependencies on the producers of its inputs and returns its id.
func (g *Graph) add(op Operator, inputs ...int) int {
	id := len(g.ops)
	g.ops = append(g.ops, op)
	g.deps.AddNode(id)
	for _, in := range inputs {
		if in >= 0 && in < id {
			g.deps.AddEdge(in, id)
		}
	}
	return id
}

// channel returns the exchange channel name of an operator.
func (g *Graph) channel(id int) string { return fmt.Sprintf("%s/%d", g.path, id) }

// seal fixes the schedule. No operators can be added afterwards.
func (g *Graph) seal() error {
	if g.sealed {
		return g.err
	}
	g.sealed = true
	if g.err != nil {
		return g.err
	}
	order, err := g.deps.TopoSort()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}
	g.order = order

	for _, id := range g.order {
		if it, ok := g.ops[id].(loop); ok {
			if err := it.inner().seal(); err != nil {
				return err
			}
		}
	}

	if g.parent == nil {
		g.log.V(4).Info("graph sealed", "plan", g.String())
	}
	return nil
}

// step runs every operator once at time t, in topological order.
func (g *Graph) step(ctx context.Context, t progress.Time) error {
	if !g.sealed {
		return fmt.Errorf("%w: graph %s is not sealed", ErrInvalidGraph, g.path)
	}
	for _, id := range g.order {
		op := g.ops[id]
		if err := op.Step(ctx, t); err != nil {
			return newOperatorError(op.Name(), t, err)
		}
	}
	return nil
}

// reset drops the state of every operator.
func (g *Graph) reset() {
	for _, op := range g.ops {
		op.Reset()
	}
}

// PlanNode is an operator of a Plan.
type PlanNode struct {
	ID   int
	Name string
	Kind OpKind
	// Inputs lists the producers of the inputs. The input of an Enter operator is an operator of
	// the parent graph.
	Inputs []int
	// Inner is the nested graph of an Iterate operator.
	Inner *Plan
	// Entries is the number of live entries in the indexes of a join or reduce operator.
	Entries int
}

// Plan is a snapshot of the structure of a graph, in schedule order once the graph is sealed.
type Plan struct {
	Path  string
	Nodes []PlanNode
	// Result is the operator whose output closes the loop of a nested graph, -1 at the top level.
	Result int
}

// Plan returns the structure of the graph.
func (g *Graph) Plan() *Plan {
	p := &Plan{Path: g.path, Result: -1}
	order := g.order
	if order == nil {
		order = g.deps.Nodes
	}
	for _, id := range order {
		op := g.ops[id]
		n := PlanNode{ID: id, Name: op.Name(), Kind: op.Kind(), Inputs: []int{}}
		if e, ok := op.(entered); ok {
			n.Inputs = append(n.Inputs, e.producer())
		}
		for _, src := range g.deps.Nodes {
			if g.deps.HasEdge(src, id) {
				n.Inputs = append(n.Inputs, src)
			}
		}
		if st, ok := op.(stateful); ok {
			n.Entries = st.entries()
		}
		if it, ok := op.(loop); ok {
			n.Inner = it.inner().Plan()
			n.Inner.Result = it.feedback()
		}
		p.Nodes = append(p.Nodes, n)
	}
	return p
}

// stateful is implemented by operators that keep indexes.
type stateful interface {
	entries() int
}

// loop is implemented by operators running a nested graph.
type loop interface {
	inner() *Graph
	feedback() int
}

// String returns a human-readable execution plan.
func (g *Graph) String() string { return g.Plan().String() }

// String returns the plan in text form, nested graphs indented below their operator.
func (p *Plan) String() string {
	var b strings.Builder
	p.write(&b, "")
	return b.String()
}

func (p *Plan) write(b *strings.Builder, indent string) {
	fmt.Fprintf(b, "%sExecution Plan (%s):\n", indent, p.Path)
	for i, n := range p.Nodes {
		deps := make([]string, len(n.Inputs))
		for j, in := range n.Inputs {
			deps[j] = strconv.Itoa(in)
		}
		fmt.Fprintf(b, "%s%d. #%d %s [%s, %s] <- [%s]\n", indent, i+1, n.ID, n.Name, n.Kind,
			n.Kind.Type(), strings.Join(deps, ","))
		if n.Inner != nil {
			n.Inner.write(b, indent+"    ")
		}
	}
}

// IsInvalidGraph reports whether err is a dataflow construction error.
func IsInvalidGraph(err error) bool { return errors.Is(err, ErrInvalidGraph) }
