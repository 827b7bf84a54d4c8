// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dag implements a small directed acyclic graph used to order the operators of a
// dataflow. Nodes keep their insertion order, which makes every traversal deterministic: two
// workers that build the same dataflow obtain the same schedule.
package dag

import "slices"

// Graph is a directed graph over comparable node labels.
type Graph[N comparable] struct {
	Nodes   []N
	byLabel map[N]int
	edges   map[N]map[N]bool
}

// AddNode adds a node and returns false if it already exists.
func (g *Graph[N]) AddNode(label N) bool {
	if _, ok := g.byLabel[label]; ok {
		return false
	}
	g.byLabel[label] = len(g.Nodes)
	g.Nodes = append(g.Nodes, label)
	g.edges[label] = map[N]bool{}
	return true
}

func (g *Graph[N]) HasNode(label N) bool {
	_, ok := g.byLabel[label]
	return ok
}

// AddEdge adds an edge from -> to, adding missing endpoints.
func (g *Graph[N]) AddEdge(from, to N) {
	g.AddNode(from)
	g.AddNode(to)
	g.edges[from][to] = true
}

func (g *Graph[N]) HasEdge(from, to N) bool {
	return g.edges[from] != nil && g.edges[from][to]
}

// Edges returns the successors of a node in insertion order.
func (g *Graph[N]) Edges(from N) []N {
	edges := make([]N, 0, len(g.edges[from]))
	for k := range g.edges[from] {
		edges = append(edges, k)
	}
	slices.SortFunc(edges, func(a, b N) int { return g.byLabel[a] - g.byLabel[b] })
	return edges
}
