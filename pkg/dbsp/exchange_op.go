package dbsp

import (
	"context"
	"fmt"

	"github.com/l7mp/ddflow/pkg/exchange"
	"github.com/l7mp/ddflow/pkg/progress"
)

// exchangeOp routes every update to the worker owning its key. The worker then waits until every
// peer has passed the current time on the operator's channel, so the downstream operator sees the
// complete batch for its keys.
type exchangeOp[K, V comparable] struct {
	baseOp
	channel string
	in      *Collection[K, V]
	out     *Collection[K, V]
}

// Exchange partitions a collection by key across the workers.
func Exchange[K, V comparable](in *Collection[K, V]) *Collection[K, V] {
	g := in.graph
	g.owns("exchange", in.graph)
	op := &exchangeOp[K, V]{baseOp: newBaseOp(g, OpExchange, "exchange:"+in.name), in: in}
	id := g.add(op, in.producer)
	op.channel = g.channel(id)
	op.out = newCollection[K, V](g, id, in.name)
	return op.out
}

func (op *exchangeOp[K, V]) Step(ctx context.Context, t progress.Time) error {
	ep := op.graph.worker.ep
	peers := ep.Peers()

	parts := make([]Batch[K, V], peers)
	for _, u := range op.in.batch {
		p := exchange.Partition(u.Key, peers)
		parts[p] = append(parts[p], u)
	}
	for to, part := range parts {
		ep.Send(to, exchange.Message{Kind: exchange.KindData, Channel: op.channel, Time: t, Payload: part})
	}

	msgs, err := ep.Gather(ctx, op.channel, t)
	if err != nil {
		return err
	}

	var b Batch[K, V]
	for _, m := range msgs {
		part, ok := m.Payload.(Batch[K, V])
		if !ok {
			return fmt.Errorf("exchange %s: unexpected payload %T from worker %d", op.channel, m.Payload, m.From)
		}
		b = append(b, part...)
	}
	if len(msgs) > 1 {
		b = b.Consolidate()
	}

	op.out.set(b)
	op.observe(len(b))
	return nil
}
