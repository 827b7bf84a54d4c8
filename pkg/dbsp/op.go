package dbsp

import (
	"context"

	"github.com/l7mp/ddflow/pkg/progress"
)

// OperatorType classifies operators by how they commute with Z-set addition.
type OperatorType int

const (
	OpTypeLinear     OperatorType = iota // Op^Δ = Op
	OpTypeBilinear                       // Op^Δ needs expansion (like joins)
	OpTypeNonLinear                      // Op^Δ needs per-key state (like reduce, distinct)
	OpTypeStructural                     // Graph structure (inputs, exchanges, scopes)
)

// String implements fmt.Stringer.
func (t OperatorType) String() string {
	switch t {
	case OpTypeLinear:
		return "Linear"
	case OpTypeBilinear:
		return "Bilinear"
	case OpTypeNonLinear:
		return "NonLinear"
	case OpTypeStructural:
		return "Structural"
	default:
		return "Unknown"
	}
}

// OpKind is the closed set of operator variants a dataflow is composed of.
type OpKind int

const (
	OpInput OpKind = iota
	OpMap
	OpConcat
	OpNegate
	OpInspect
	OpExchange
	OpJoin
	OpReduce
	OpDistinct
	OpEnter
	OpVariable
	OpIterate
)

var opKindNames = map[OpKind]string{
	OpInput:    "input",
	OpMap:      "map",
	OpConcat:   "concat",
	OpNegate:   "negate",
	OpInspect:  "inspect",
	OpExchange: "exchange",
	OpJoin:     "join",
	OpReduce:   "reduce",
	OpDistinct: "distinct",
	OpEnter:    "enter",
	OpVariable: "variable",
	OpIterate:  "iterate",
}

// String implements fmt.Stringer.
func (k OpKind) String() string {
	if s, ok := opKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Type returns the operator type of the kind.
func (k OpKind) Type() OperatorType {
	switch k {
	case OpMap, OpConcat, OpNegate, OpInspect:
		return OpTypeLinear
	case OpJoin:
		return OpTypeBilinear
	case OpReduce, OpDistinct:
		return OpTypeNonLinear
	default:
		return OpTypeStructural
	}
}

// Operator is a node of the dataflow graph. Every variant implements the same contract: Step
// consumes the batches its inputs produced at time t and publishes the batch of output deltas for
// t. Steps are called in topological order, once per time.
type Operator interface {
	// Name returns the name of the operator, for debugging.
	Name() string
	// Kind returns the variant of the operator.
	Kind() OpKind
	// Step processes the input deltas at time t.
	Step(ctx context.Context, t progress.Time) error
	// Reset drops all operator state.
	Reset()
}

// baseOp is embedded into every operator.
type baseOp struct {
	name  string
	kind  OpKind
	graph *Graph
}

func newBaseOp(g *Graph, kind OpKind, name string) baseOp {
	if name == "" {
		name = kind.String()
	}
	return baseOp{name: name, kind: kind, graph: g}
}

func (n *baseOp) Name() string { return n.name }
func (n *baseOp) Kind() OpKind { return n.kind }
func (n *baseOp) Reset()       {}

// observe records the size of an output batch.
func (n *baseOp) observe(size int) {
	if w := n.graph.worker; w != nil {
		w.metrics.ObserveUpdates(n.kind.String(), size)
	}
}
