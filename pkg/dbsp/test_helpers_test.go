package dbsp

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"

	"github.com/l7mp/ddflow/internal/testutils"
	"github.com/l7mp/ddflow/pkg/config"
)

const testTimeout = 10 * time.Second

func testLogger() logr.Logger { return testutils.NewLogger(GinkgoWriter, testutils.LogLevel) }

func testConfig(workers int) config.Config {
	c := config.New()
	c.Workers = workers
	return c
}

// epochs is a list of batches fed into an input, one batch per epoch.
type epochs[K, V comparable] []Batch[K, V]

// feed inserts the updates of epoch e into a session and seals the epoch. The updates are dealt
// out to the workers round-robin, so multi-worker runs route records through the exchange.
func (es epochs[K, V]) feed(w *Worker, s *InputSession[K, V], e int) error {
	if e < len(es) {
		for i, u := range es[e] {
			if i%w.Peers() != w.Index() {
				continue
			}
			if err := s.Update(u.Key, u.Val, u.Diff); err != nil {
				return err
			}
		}
	}
	return s.AdvanceTo(uint64(e + 1))
}

// run1 runs a dataflow with a single input on the given number of workers and returns everything
// the output collection emitted.
func run1[K, V, K2, V2 comparable](cfg config.Config, in epochs[K, V], build func(c *Collection[K, V]) *Collection[K2, V2]) (*Collector[K2, V2], error) {
	out := NewCollector[K2, V2]()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	err := Execute(ctx, cfg, testLogger(), func(w *Worker) error {
		var s *InputSession[K, V]
		if err := w.Dataflow(func(g *Graph) {
			var c *Collection[K, V]
			c, s = NewInput[K, V](g, "in")
			Capture(build(c), out)
		}); err != nil {
			return err
		}

		for e := range in {
			if err := in.feed(w, s, e); err != nil {
				return err
			}
			if _, err := w.Step(ctx); err != nil {
				return err
			}
		}
		return nil
	})

	return out, err
}

// run2 is run1 for dataflows with two inputs.
func run2[K, V1, V2, K3, V3 comparable](cfg config.Config, left epochs[K, V1], right epochs[K, V2], build func(l *Collection[K, V1], r *Collection[K, V2]) *Collection[K3, V3]) (*Collector[K3, V3], error) {
	out := NewCollector[K3, V3]()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	err := Execute(ctx, cfg, testLogger(), func(w *Worker) error {
		var ls *InputSession[K, V1]
		var rs *InputSession[K, V2]
		if err := w.Dataflow(func(g *Graph) {
			var l *Collection[K, V1]
			var r *Collection[K, V2]
			l, ls = NewInput[K, V1](g, "left")
			r, rs = NewInput[K, V2](g, "right")
			Capture(build(l, r), out)
		}); err != nil {
			return err
		}

		for e := 0; e < max(len(left), len(right)); e++ {
			if err := left.feed(w, ls, e); err != nil {
				return err
			}
			if err := right.feed(w, rs, e); err != nil {
				return err
			}
			if _, err := w.Step(ctx); err != nil {
				return err
			}
		}
		return nil
	})

	return out, err
}

// neg flips the sign of a batch.
func neg[K, V comparable](b Batch[K, V]) Batch[K, V] {
	ret := make(Batch[K, V], len(b))
	for i, u := range b {
		ret[i] = Update[K, V]{Key: u.Key, Val: u.Val, Diff: -u.Diff}
	}
	return ret
}
