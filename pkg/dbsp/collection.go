package dbsp

import (
	"fmt"
	"sync"

	"github.com/l7mp/ddflow/pkg/progress"
)

// Pair is the value type produced by Join.
type Pair[A, B comparable] struct {
	First  A
	Second B
}

// String implements fmt.Stringer.
func (p Pair[A, B]) String() string { return fmt.Sprintf("(%v,%v)", p.First, p.Second) }

// Record is an update observed at a time, as delivered to output sinks.
type Record[K, V comparable] struct {
	Key  K
	Val  V
	Time progress.Time
	Diff int64
}

// String implements fmt.Stringer.
func (r Record[K, V]) String() string {
	return fmt.Sprintf("((%v, %v), %s, %d)", r.Key, r.Val, r.Time, r.Diff)
}

// Collection is a typed edge of a dataflow graph. It carries the batch of updates its producer
// emitted at the current time; downstream operators read it when they are scheduled, which is
// always after the producer.
type Collection[K, V comparable] struct {
	graph    *Graph
	producer int
	name     string
	batch    Batch[K, V]
}

func newCollection[K, V comparable](g *Graph, producer int, name string) *Collection[K, V] {
	return &Collection[K, V]{graph: g, producer: producer, name: name}
}

// Name returns the name of the collection.
func (c *Collection[K, V]) Name() string { return c.name }

// Graph returns the graph the collection belongs to.
func (c *Collection[K, V]) Graph() *Graph { return c.graph }

func (c *Collection[K, V]) set(b Batch[K, V]) { c.batch = b }

// Collector is a concurrency-safe output sink. A single collector may be shared by the dataflows
// of all workers.
type Collector[K, V comparable] struct {
	mu      sync.Mutex
	records []Record[K, V]
}

// NewCollector creates an empty collector.
func NewCollector[K, V comparable]() *Collector[K, V] {
	return &Collector[K, V]{}
}

// Push appends a record. It is the sink passed to Inspect.
func (c *Collector[K, V]) Push(r Record[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

// Records returns a copy of the collected records.
func (c *Collector[K, V]) Records() []Record[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]Record[K, V], len(c.records))
	copy(ret, c.records)
	return ret
}

// At returns the net contents of the collection at time t: the sum of all records at times less
// than or equal to t.
func (c *Collector[K, V]) At(t progress.Time) *ZSet[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	z := NewZSet[K, V]()
	for _, r := range c.records {
		if r.Time.LessEqual(t) {
			z.Add(r.Key, r.Val, r.Diff)
		}
	}
	return z
}

// Final returns the net contents over all collected records.
func (c *Collector[K, V]) Final() *ZSet[K, V] { return c.At(progress.Top) }

// Len returns the number of collected records.
func (c *Collector[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Reset drops the collected records.
func (c *Collector[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
}
