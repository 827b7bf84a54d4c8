// Copyright 2024 rg0now. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dag

import (
	"fmt"
	"slices"
)

// New creates an empty graph.
func New[N comparable]() *Graph[N] {
	return &Graph[N]{byLabel: map[N]int{}, edges: map[N]map[N]bool{}}
}

// Roots returns the nodes without an incoming edge.
func (g *Graph[N]) Roots() []N {
	indeg := g.indegrees()
	roots := make([]N, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if indeg[n] == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// TopoSort returns the nodes so that every edge points forward. Among the nodes that are ready
// at the same time the one added first comes first. An error is returned if the graph has a cycle.
func (g *Graph[N]) TopoSort() ([]N, error) {
	indeg := g.indegrees()
	ready := g.Roots()
	order := make([]N, 0, len(g.Nodes))

	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b N) int { return g.byLabel[a] - g.byLabel[b] })
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, m := range g.Edges(n) {
			indeg[m]--
			if indeg[m] == 0 {
				ready = append(ready, m)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("graph has a cycle through %d node(s)", len(g.Nodes)-len(order))
	}

	return order, nil
}

func (g *Graph[N]) indegrees() map[N]int {
	indeg := make(map[N]int, len(g.Nodes))
	for _, n := range g.Nodes {
		for m := range g.edges[n] {
			indeg[m]++
		}
	}
	return indeg
}
