package dbsp

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/l7mp/ddflow/pkg/config"
	"github.com/l7mp/ddflow/pkg/exchange"
	"github.com/l7mp/ddflow/pkg/metrics"
)

// Option customizes Execute.
type Option func(o *options)

type options struct {
	metrics *metrics.Metrics
}

// WithMetrics reports the progress of the computation into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Execute runs a dataflow computation on cfg.Workers parallel workers and waits until it
// finishes. Each worker calls fn, which is expected to build the dataflow with Worker.Dataflow,
// feed its input sessions and optionally step the worker. When fn returns the worker closes its
// inputs and runs the remaining epochs. Either every worker or none of them must build a
// dataflow, otherwise Execute fails with ErrInvalidGraph.
//
// The first worker that fails aborts the others; Execute returns the root cause.
func Execute(ctx context.Context, cfg config.Config, log logr.Logger, fn func(w *Worker) error, opts ...Option) error {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg = cfg.Complete()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log = log.WithName("dbsp")
	log.V(2).Info("starting computation", "workers", cfg.Workers)

	fabric := exchange.NewFabric(cfg.Workers, cfg.Exchange.MailboxHint, o.metrics, log)
	errs := make([]error, cfg.Workers)
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Workers; i++ {
		w := newWorker(fabric.Endpoint(i), cfg, o.metrics, log)
		eg.Go(func() error {
			err := w.run(ctx, fn)
			if err != nil {
				errs[w.index] = err
				w.ep.Abort(err)
				o.metrics.ObserveAbort()
				return fmt.Errorf("worker %d: %w", w.index, err)
			}
			return nil
		})
	}

	err := eg.Wait()
	if err == nil {
		return nil
	}

	// prefer the failure that caused the abort over the aborts it triggered
	for i, e := range errs {
		if e != nil && !errors.Is(e, exchange.ErrAborted) {
			return fmt.Errorf("worker %d: %w", i, e)
		}
	}
	return err
}
