package dbsp

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/l7mp/ddflow/pkg/config"
	"github.com/l7mp/ddflow/pkg/exchange"
	"github.com/l7mp/ddflow/pkg/metrics"
	"github.com/l7mp/ddflow/pkg/progress"
)

const (
	progressChannel     = "progress"
	constructionChannel = "construction"
)

// Worker runs one copy of the dataflow. Workers are created by Execute; all of them build the
// same graph and process the same sequence of epochs, each on the records partitioned to it.
//
// Step is a collective: every worker must call it the same number of times.
type Worker struct {
	index    int
	peers    int
	ep       *exchange.Endpoint
	graph    *Graph
	sessions []inputHandle
	next     uint64 // first epoch not processed yet
	seq      uint64 // number of progress rounds
	cfg      config.Config
	log      logr.Logger
	metrics  *metrics.Metrics
	ctx      context.Context // of the running computation
}

func newWorker(ep *exchange.Endpoint, cfg config.Config, m *metrics.Metrics, log logr.Logger) *Worker {
	return &Worker{
		index:   ep.Index(),
		peers:   ep.Peers(),
		ep:      ep,
		cfg:     cfg,
		metrics: m,
		log:     log.WithName("worker").WithValues("index", ep.Index()),
	}
}

// Index returns the index of the worker, from 0 to Peers()-1.
func (w *Worker) Index() int { return w.index }

// Peers returns the number of workers.
func (w *Worker) Peers() int { return w.peers }

// Config returns the configuration of the computation.
func (w *Worker) Config() config.Config { return w.cfg }

// Logger returns the logger of the worker.
func (w *Worker) Logger() logr.Logger { return w.log }

// Graph returns the dataflow of the worker, or nil if it has not been built yet.
func (w *Worker) Graph() *Graph { return w.graph }

// Dataflow builds the dataflow of the worker. The build function creates inputs and operators in
// the given graph; the graph is sealed when it returns and construction errors are reported here.
func (w *Worker) Dataflow(build func(g *Graph)) error {
	if w.graph != nil {
		return fmt.Errorf("%w: worker %d already has a dataflow", ErrInvalidGraph, w.index)
	}
	w.graph = newGraph(w, "dataflow", nil)
	build(w.graph)
	if err := w.graph.seal(); err != nil {
		return err
	}
	return w.agree(w.ctx)
}

// agree checks that either every worker or none of them built a dataflow. Workers with a dataflow
// call it from Dataflow, the rest once their fn returned.
func (w *Worker) agree(ctx context.Context) error {
	local := 0
	if w.graph != nil {
		local = 1
	}
	built, err := exchange.AllReduce(ctx, w.ep, constructionChannel, progress.Time{}, local,
		func(a, b int) int { return a + b })
	if err != nil {
		return err
	}
	if built != 0 && built != w.peers {
		return fmt.Errorf("%w: %d of %d workers built a dataflow", ErrInvalidGraph, built, w.peers)
	}
	return nil
}

// Step agrees with the other workers on the epochs that are sealed on every input session and
// processes them in order. It returns true once every input is closed and every sealed epoch has
// been processed.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	if w.graph == nil {
		return false, fmt.Errorf("%w: worker %d has no dataflow", ErrInvalidGraph, w.index)
	}

	local := progress.Summary{Frontier: progress.Top}
	for _, s := range w.sessions {
		local.Frontier = progress.Min(local.Frontier, s.frontier())
		local.Horizon = max(local.Horizon, s.horizon())
	}

	global, err := exchange.AllReduce(ctx, w.ep, progressChannel, progress.Time{Epoch: w.seq},
		local, progress.Summary.Combine)
	if err != nil {
		return false, err
	}
	w.seq++

	for end := global.End(); w.next < end; w.next++ {
		if err := w.runEpoch(ctx, w.next); err != nil {
			return false, err
		}
	}

	return global.Done(w.next), nil
}

func (w *Worker) runEpoch(ctx context.Context, epoch uint64) error {
	start := time.Now()
	t := progress.Time{Epoch: epoch}

	if err := w.graph.step(ctx, t); err != nil {
		return err
	}

	d := time.Since(start)
	w.metrics.ObserveEpoch(d)
	w.log.V(2).Info("epoch processed", "epoch", epoch, "duration", d.String())
	return nil
}

// run drives the worker: it calls fn, closes the inputs and steps until the computation is done.
func (w *Worker) run(ctx context.Context, fn func(w *Worker) error) error {
	w.ctx = ctx
	if err := fn(w); err != nil {
		return err
	}
	if w.graph == nil {
		return w.agree(ctx)
	}

	for _, s := range w.sessions {
		s.close()
	}
	for {
		done, err := w.Step(ctx)
		if err != nil {
			return err
		}
		if done {
			w.log.V(2).Info("computation finished", "epochs", w.next)
			return nil
		}
	}
}
