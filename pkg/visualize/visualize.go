// Package visualize renders dataflow plans as diagrams.
package visualize

import (
	"fmt"

	"github.com/emicklei/dot"

	"github.com/l7mp/ddflow/pkg/dbsp"
)

// Generator renders a plan in some diagram format.
type Generator interface {
	Generate(p *dbsp.Plan) string
}

// NewGenerator returns the generator for a format: "dot" or "mermaid".
func NewGenerator(format string) (Generator, error) {
	switch format {
	case "dot":
		return &DotGenerator{}, nil
	case "mermaid":
		return &MermaidGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown diagram format %q", format)
	}
}

// DotGenerator generates Graphviz DOT diagrams.
type DotGenerator struct{}

// Generate creates a Graphviz DOT diagram from the plan.
func (d *DotGenerator) Generate(p *dbsp.Plan) string {
	return BuildDotGraph(p).String()
}

// MermaidGenerator generates Mermaid flowchart diagrams.
type MermaidGenerator struct{}

// Generate creates a Mermaid flowchart from the plan using the dot library. Mermaid has no
// clusters, so the operators of iteration scopes are drawn next to the enclosing operators.
func (m *MermaidGenerator) Generate(p *dbsp.Plan) string {
	graph := dot.NewGraph(dot.Directed)
	b := &builder{root: graph, nodes: map[string]dot.Node{}, mermaid: true}
	b.add(graph, p, nil)
	return fmt.Sprintf("```mermaid\n%s```\n", dot.MermaidFlowchart(graph, dot.MermaidLeftToRight))
}

// BuildDotGraph creates a dot.Graph from a plan. Iteration scopes become clusters, and the loop
// of each scope is drawn as a dashed edge from the result of the body back to the scope.
func BuildDotGraph(p *dbsp.Plan) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR")
	graph.Attr("compound", "true")
	graph.Attr("newrank", "true")
	graph.Attr("label", p.Path)
	graph.Attr("labelloc", "t")
	graph.Attr("fontsize", "16")

	b := &builder{root: graph, nodes: map[string]dot.Node{}}
	b.add(graph, p, nil)
	return graph
}

type builder struct {
	root    *dot.Graph
	nodes   map[string]dot.Node
	mermaid bool
}

func nodeID(p *dbsp.Plan, id int) string { return fmt.Sprintf("%s/%d", p.Path, id) }

// add draws the operators of a plan into g. Enter operators take their input from parent.
func (b *builder) add(g *dot.Graph, p, parent *dbsp.Plan) {
	for _, n := range p.Nodes {
		b.nodes[nodeID(p, n.ID)] = b.style(g.Node(nodeID(p, n.ID)).Attr("label", n.Name), n.Kind)
	}

	for _, n := range p.Nodes {
		to := b.nodes[nodeID(p, n.ID)]
		for _, in := range n.Inputs {
			src := p
			if n.Kind == dbsp.OpEnter && parent != nil {
				src = parent
			}
			from, ok := b.nodes[nodeID(src, in)]
			if !ok {
				continue
			}
			b.root.Edge(from, to)
		}

		if n.Inner == nil {
			continue
		}
		cluster := g
		if !b.mermaid {
			cluster = g.Subgraph(n.Name, dot.ClusterOption{})
			cluster.Attr("style", "rounded")
			cluster.Attr("color", "darkblue")
		}
		// enter operators refer to operators drawn earlier in this plan
		b.add(cluster, n.Inner, p)
		if res, ok := b.nodes[nodeID(n.Inner, n.Inner.Result)]; ok {
			b.root.Edge(res, to).
				Attr("style", "dashed").
				Attr("color", "blue").
				Attr("label", "fixpoint").
				Attr("fontname", "helvetica").
				Attr("fontsize", "10")
		}
	}
}

func (b *builder) style(n dot.Node, kind dbsp.OpKind) dot.Node {
	if b.mermaid {
		return mermaidStyle(n, kind)
	}
	n.Attr("fontname", "helvetica").Attr("style", "filled,rounded").Attr("shape", "box")
	switch kind {
	case dbsp.OpInput:
		n.Attr("shape", "ellipse").Attr("style", "filled").Attr("fillcolor", "lightgreen")
	case dbsp.OpInspect:
		n.Attr("shape", "ellipse").Attr("style", "filled").Attr("fillcolor", "lightyellow")
	case dbsp.OpExchange:
		n.Attr("fillcolor", "lightgrey")
	case dbsp.OpIterate, dbsp.OpEnter, dbsp.OpVariable:
		n.Attr("fillcolor", "lightcyan")
	default:
		n.Attr("fillcolor", "lightblue")
	}
	return n
}

// mermaidStyle sets the shape to one of the dot.MermaidShape values and the style to CSS, which
// is what dot.MermaidFlowchart expects.
func mermaidStyle(n dot.Node, kind dbsp.OpKind) dot.Node {
	switch kind {
	case dbsp.OpInput:
		n.Attr("shape", dot.MermaidShapeStadium).Attr("style", "fill:lightgreen")
	case dbsp.OpInspect:
		n.Attr("shape", dot.MermaidShapeStadium).Attr("style", "fill:lightyellow")
	case dbsp.OpExchange:
		n.Attr("shape", dot.MermaidShapeSubroutine).Attr("style", "fill:lightgrey")
	case dbsp.OpIterate:
		n.Attr("shape", dot.MermaidShapeRhombus).Attr("style", "fill:lightcyan")
	case dbsp.OpEnter, dbsp.OpVariable:
		n.Attr("style", "fill:lightcyan")
	default:
		n.Attr("style", "fill:lightblue")
	}
	return n
}
