// Package graph provides the graph sources the connected components computation reads: an
// in-memory edge list, a loader for plain-text edge files and a random graph generator.
//
// The text format has one directed edge per line, given as two decimal node ids separated by
// white space. Empty lines and lines starting with '#' are ignored.
package graph

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Source is a directed graph as seen by the ingestion code.
type Source interface {
	// NodeCount returns one past the largest valid node id.
	NodeCount() int
	// Neighbors returns the out-neighbors of a node.
	Neighbors(node uint64) []uint64
}

// EdgeList is an in-memory Source. Node ids are not checked against the node count, so an
// EdgeList can also describe malformed input.
type EdgeList struct {
	nodes int
	adj   map[uint64][]uint64
	edges int
}

// NewEdgeList creates an edge list with the given node count and no edges.
func NewEdgeList(nodes int) *EdgeList {
	return &EdgeList{nodes: nodes, adj: map[uint64][]uint64{}}
}

// AddEdge adds the directed edge src -> dst.
func (g *EdgeList) AddEdge(src, dst uint64) {
	g.adj[src] = append(g.adj[src], dst)
	g.edges++
}

// NodeCount implements Source.
func (g *EdgeList) NodeCount() int { return g.nodes }

// Neighbors implements Source.
func (g *EdgeList) Neighbors(node uint64) []uint64 { return g.adj[node] }

// EdgeCount returns the number of edges.
func (g *EdgeList) EdgeCount() int { return g.edges }

// Sources returns the nodes with at least one out-edge, in increasing order. Unlike Source, it
// also lists nodes outside [0, NodeCount).
func (g *EdgeList) Sources() []uint64 {
	ret := make([]uint64, 0, len(g.adj))
	for n := range g.adj {
		ret = append(ret, n)
	}
	slices.Sort(ret)
	return ret
}

// Parse reads an edge list in text format. The node count is one past the largest id seen.
func Parse(r io.Reader) (*EdgeList, error) {
	g := NewEdgeList(0)
	s := bufio.NewScanner(r)
	for line := 1; s.Scan(); line++ {
		text := strings.TrimSpace(s.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 node ids, got %d fields", line, len(fields))
		}
		src, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid source node: %w", line, err)
		}
		dst, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid destination node: %w", line, err)
		}
		g.AddEdge(src, dst)
		g.nodes = max(g.nodes, int(min(max(src, dst), uint64(maxNodes)))+1)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read edge list: %w", err)
	}
	return g, nil
}

// maxNodes caps the node count derived from the input so that it fits an int.
const maxNodes = 1<<62 - 1

// Load reads an edge file.
func Load(path string) (*EdgeList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph %q: %w", path, err)
	}
	defer f.Close()

	g, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("graph %q: %w", path, err)
	}
	return g, nil
}

// Random generates a graph with the given number of uniformly random directed edges over node ids
// 1..nodes. The node count of the result is nodes+1: id 0 is valid but never used.
func Random(nodes, edges int, seed int64) *EdgeList {
	rnd := rand.New(rand.NewSource(seed)) //nolint:gosec
	g := NewEdgeList(nodes + 1)
	if nodes <= 0 {
		return g
	}
	for i := 0; i < edges; i++ {
		g.AddEdge(uint64(rnd.Intn(nodes)+1), uint64(rnd.Intn(nodes)+1))
	}
	return g
}

// Write prints the edges of a graph in text format, ordered by source node.
func Write(w io.Writer, g Source) error {
	var nodes []uint64
	if el, ok := g.(*EdgeList); ok {
		nodes = el.Sources()
	} else {
		for n := 0; n < g.NodeCount(); n++ {
			nodes = append(nodes, uint64(n))
		}
	}

	bw := bufio.NewWriter(w)
	for _, n := range nodes {
		for _, dst := range g.Neighbors(n) {
			if _, err := fmt.Fprintf(bw, "%d %d\n", n, dst); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
