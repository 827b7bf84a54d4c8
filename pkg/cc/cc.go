// Package cc computes the connected components of a graph with an incremental label propagation
// dataflow. Every node is labeled with the least node id that reaches it: labels are seeded from
// the edge sources, and in each round every node adopts the minimum of its own seed and the labels
// of its in-neighbors until no label changes on any worker.
//
// Edges are directed, so on a graph given by one direction of each edge the labels are the least
// ids that reach a node. Set Options.Symmetric to treat every edge as undirected; the labels then
// identify the (weakly) connected components.
package cc

import (
	"context"
	"fmt"
	"math"

	"github.com/go-logr/logr"

	"github.com/l7mp/ddflow/pkg/config"
	"github.com/l7mp/ddflow/pkg/dbsp"
	"github.com/l7mp/ddflow/pkg/graph"
)

// Node is a node id, also used as the component label.
type Node = uint32

// LabelUpdate is an update of the label of a node, as delivered to the sink.
type LabelUpdate = dbsp.Record[Node, Node]

// Options customizes the computation.
type Options struct {
	// Symmetric adds the reverse of every edge.
	Symmetric bool
	// SeedNodes labels every node 1..NodeCount-1 with its own id, so nodes without edges show up
	// as singleton components. Without it only nodes that have an edge are labeled.
	SeedNodes bool
	// MaxRounds bounds the rounds of the label propagation per epoch. Zero means the node count
	// plus two, which no monotone propagation can exceed.
	MaxRounds uint64
	// Sink receives the label updates of every worker. It must be safe for concurrent use.
	Sink func(LabelUpdate)
	// Trace receives the label changes of every round of the propagation, stamped with the
	// round inside the epoch. It must be safe for concurrent use.
	Trace func(LabelUpdate)
}

// Dataflow is the connected components dataflow built on one worker.
type Dataflow struct {
	// Edges accepts (src, dst) edges.
	Edges *dbsp.InputSession[Node, Node]
	// Nodes accepts (node, node) seeds. It is nil unless Options.SeedNodes is set.
	Nodes *dbsp.InputSession[Node, Node]
	// Labels is the collection of (node, label) pairs.
	Labels *dbsp.Collection[Node, Node]

	nodeCount int
}

// Build adds the connected components dataflow to a graph. Edges referring to ids outside
// [0, nodeCount) are rejected by the input sessions with dbsp.ErrMalformedInput.
func Build(g *dbsp.Graph, nodeCount int, opts Options) *Dataflow {
	df := &Dataflow{nodeCount: nodeCount}

	edges, es := dbsp.NewInput[Node, Node](g, "edges")
	es.Validate(df.validate)
	df.Edges = es

	if opts.Symmetric {
		edges = dbsp.Concat(edges, dbsp.Map(edges, "reverse", func(src, dst Node) (Node, Node) {
			return dst, src
		}))
	}

	seeds := dbsp.Map(edges, "seed", func(src, _ Node) (Node, Node) { return src, src })
	if opts.SeedNodes {
		nodes, ns := dbsp.NewInput[Node, Node](g, "nodes")
		ns.Validate(df.validate)
		df.Nodes = ns
		seeds = dbsp.Concat(seeds, nodes)
	}
	labels := dbsp.Distinct(seeds)

	maxRounds := opts.MaxRounds
	if maxRounds == 0 {
		maxRounds = uint64(max(nodeCount, 0)) + 2
	}

	result := dbsp.Iterate(labels, func(s *dbsp.Scope, inner *dbsp.Collection[Node, Node]) *dbsp.Collection[Node, Node] {
		edges := dbsp.Enter(s, edges)
		labels := dbsp.Enter(s, labels)
		proposals := dbsp.Map(dbsp.Join(inner, edges), "propagate",
			func(_ Node, p dbsp.Pair[Node, Node]) (Node, Node) { return p.Second, p.First })
		next := dbsp.Min(dbsp.Concat(proposals, labels))
		if opts.Trace != nil {
			next = dbsp.Inspect(next, opts.Trace)
		}
		return next
	}, dbsp.WithScopeName("cc"), dbsp.WithMaxRounds(maxRounds))

	if opts.Sink != nil {
		result = dbsp.Inspect(result, opts.Sink)
	}
	df.Labels = result

	return df
}

func (df *Dataflow) validate(src, dst Node) error {
	for _, n := range []Node{src, dst} {
		if int64(n) >= int64(df.nodeCount) {
			return fmt.Errorf("node %d outside [0, %d)", n, df.nodeCount)
		}
	}
	return nil
}

// Ingest feeds the edges of a graph into the dataflow at the current epoch. Each worker ingests
// the out-edges of the nodes n with n % peers == index, so every edge enters exactly once. Graphs
// with more nodes than the label type can hold are rejected with dbsp.ErrMalformedInput.
func Ingest(w *dbsp.Worker, df *Dataflow, src graph.Source) error {
	if n := src.NodeCount(); n > 0 && uint64(n-1) > math.MaxUint32 {
		return fmt.Errorf("%w: node count %d overflows the label type", dbsp.ErrMalformedInput, n)
	}

	count := 0
	for _, node := range sources(src) {
		if int(node%uint64(w.Peers())) != w.Index() {
			continue
		}
		for _, dst := range src.Neighbors(node) {
			s, d, err := toNodes(node, dst)
			if err != nil {
				return err
			}
			if err := df.Edges.Insert(s, d); err != nil {
				return err
			}
			count++
		}
	}

	if df.Nodes != nil {
		for n := w.Index(); n < src.NodeCount(); n += w.Peers() {
			if n == 0 {
				continue
			}
			if err := df.Nodes.Insert(Node(n), Node(n)); err != nil {
				return err
			}
		}
	}

	w.Logger().V(2).Info("edges ingested", "count", count, "epoch", df.Edges.Epoch())
	return nil
}

// sources lists the nodes whose out-edges are ingested. Edge lists report their sources
// directly, so sources outside the node range are seen and rejected.
func sources(src graph.Source) []uint64 {
	if el, ok := src.(interface{ Sources() []uint64 }); ok {
		return el.Sources()
	}
	ret := make([]uint64, 0, src.NodeCount())
	for n := 0; n < src.NodeCount(); n++ {
		ret = append(ret, uint64(n))
	}
	return ret
}

func toNodes(src, dst uint64) (Node, Node, error) {
	if src > math.MaxUint32 || dst > math.MaxUint32 {
		return 0, 0, fmt.Errorf("%w: edge (%d, %d) overflows the label type", dbsp.ErrMalformedInput, src, dst)
	}
	return Node(src), Node(dst), nil
}

// Run computes the connected components of a graph and returns the label of every labeled node.
func Run(ctx context.Context, cfg config.Config, log logr.Logger, src graph.Source, opts Options, execOpts ...dbsp.Option) (map[Node]Node, error) {
	out := dbsp.NewCollector[Node, Node]()
	sink := opts.Sink
	opts.Sink = func(l LabelUpdate) {
		out.Push(l)
		if sink != nil {
			sink(l)
		}
	}

	err := dbsp.Execute(ctx, cfg, log.WithName("cc"), func(w *dbsp.Worker) error {
		var df *Dataflow
		if err := w.Dataflow(func(g *dbsp.Graph) { df = Build(g, src.NodeCount(), opts) }); err != nil {
			return err
		}
		return Ingest(w, df, src)
	}, execOpts...)
	if err != nil {
		return nil, err
	}

	return LabelMap(out.Final())
}

// LabelMap converts a collection of (node, label) pairs into a map. It fails if a node has no
// unique label, which indicates a broken dataflow.
func LabelMap(z *dbsp.ZSet[Node, Node]) (map[Node]Node, error) {
	ret := make(map[Node]Node, z.Len())
	for _, u := range z.Batch() {
		if u.Diff != 1 {
			return nil, fmt.Errorf("node %d: label %d has multiplicity %d", u.Key, u.Val, u.Diff)
		}
		if l, ok := ret[u.Key]; ok {
			return nil, fmt.Errorf("node %d: multiple labels %d and %d", u.Key, l, u.Val)
		}
		ret[u.Key] = u.Val
	}
	return ret, nil
}

// Plan builds the dataflow on a single worker without feeding it and returns its structure.
func Plan(ctx context.Context, log logr.Logger, nodeCount int, opts Options) (*dbsp.Plan, error) {
	cfg := config.New()
	cfg.Workers = 1

	var plan *dbsp.Plan
	err := dbsp.Execute(ctx, cfg, log.WithName("cc"), func(w *dbsp.Worker) error {
		if err := w.Dataflow(func(g *dbsp.Graph) { Build(g, nodeCount, opts) }); err != nil {
			return err
		}
		plan = w.Graph().Plan()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}
