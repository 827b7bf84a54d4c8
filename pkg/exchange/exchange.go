// Package exchange connects the workers of a dataflow computation. Each worker owns an Endpoint
// with an unbounded mailbox; workers route data batches to the owner of each key, exchange
// progress reports, and broadcast aborts on a control channel.
//
// Completion is frontier based. Every message a worker sends on a channel at time t doubles as a
// punctuation stating that the sender will send nothing more on that channel at or below t. A
// receiver tracks these per sender and only hands out the messages for (channel, t) once the
// pointwise minimum over all senders has moved strictly beyond t. Because a sender's messages are
// delivered in order, every message of the sender for t has arrived by then.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/ddflow/pkg/metrics"
	"github.com/l7mp/ddflow/pkg/progress"
)

// ErrAborted is returned by blocking endpoint calls once the computation has been aborted, either
// by a peer or by context cancellation.
var ErrAborted = errors.New("computation aborted")

// Kind is the type of a message.
type Kind int

const (
	// KindData carries a batch of records routed to the receiver.
	KindData Kind = iota
	// KindProgress carries a progress report for a collective.
	KindProgress
	// KindAbort tells the receiver that a peer has failed.
	KindAbort
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindProgress:
		return "progress"
	case KindAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Message is the unit of communication between endpoints.
type Message struct {
	From    int
	Kind    Kind
	Channel string
	Time    progress.Time
	Payload any
	Err     error
}

type slot struct {
	channel string
	time    progress.Time
}

// Fabric is the set of mailboxes connecting the workers of a computation.
type Fabric struct {
	boxes   []*mailbox
	metrics *metrics.Metrics
	log     logr.Logger
}

// NewFabric creates a fabric for the given number of workers. The mailbox hint sets the initial
// capacity of each mailbox.
func NewFabric(peers, mailboxHint int, m *metrics.Metrics, log logr.Logger) *Fabric {
	f := &Fabric{
		boxes:   make([]*mailbox, peers),
		metrics: m,
		log:     log.WithName("exchange"),
	}
	for i := range f.boxes {
		f.boxes[i] = newMailbox(mailboxHint)
	}
	return f
}

// Peers returns the number of workers connected by the fabric.
func (f *Fabric) Peers() int { return len(f.boxes) }

// Endpoint returns the endpoint of a worker. Each endpoint must be used by a single goroutine.
func (f *Fabric) Endpoint(index int) *Endpoint {
	return &Endpoint{
		index:    index,
		fabric:   f,
		box:      f.boxes[index],
		stash:    map[slot][]Message{},
		trackers: map[string]*progress.Tracker{},
		log:      f.log.WithValues("worker", index),
	}
}

// Endpoint is a worker's attachment to the fabric.
type Endpoint struct {
	index    int
	fabric   *Fabric
	box      *mailbox
	stash    map[slot][]Message
	trackers map[string]*progress.Tracker
	err      error
	log      logr.Logger
}

// Index returns the index of the endpoint's worker.
func (e *Endpoint) Index() int { return e.index }

// Peers returns the number of workers.
func (e *Endpoint) Peers() int { return len(e.fabric.boxes) }

// Send delivers a message to a peer. It never blocks.
func (e *Endpoint) Send(to int, msg Message) {
	msg.From = e.index
	e.fabric.boxes[to].push(msg)
	e.fabric.metrics.ObserveMessage(msg.Kind.String())
}

// Broadcast delivers a message to every worker, including the sender.
func (e *Endpoint) Broadcast(msg Message) {
	for i := range e.fabric.boxes {
		e.Send(i, msg)
	}
}

// Abort tells every peer that this worker has failed with cause. Peers blocked in Gather return
// ErrAborted wrapping the cause.
func (e *Endpoint) Abort(cause error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %w", ErrAborted, cause)
	}
	for i := range e.fabric.boxes {
		if i != e.index {
			e.Send(i, Message{Kind: KindAbort, Err: cause})
		}
	}
	e.log.V(2).Info("abort broadcast", "cause", cause.Error())
}

// Err returns the abort error seen by the endpoint, if any.
func (e *Endpoint) Err() error { return e.err }

// Frontier returns the global frontier of a channel as seen by this endpoint.
func (e *Endpoint) Frontier(channel string) progress.Time {
	e.poll()
	return e.tracker(channel).Frontier()
}

// Gather waits until every peer has moved its frontier on channel strictly beyond t and returns
// the messages sent for (channel, t), ordered by sender.
func (e *Endpoint) Gather(ctx context.Context, channel string, t progress.Time) ([]Message, error) {
	for {
		e.poll()

		if e.err != nil {
			return nil, e.err
		}

		if e.tracker(channel).Passed(t) {
			key := slot{channel: channel, time: t}
			msgs := e.stash[key]
			delete(e.stash, key)
			return sortBySender(msgs, e.Peers()), nil
		}

		select {
		case <-e.box.notify:
		case <-ctx.Done():
			e.err = fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
			return nil, e.err
		}
	}
}

// poll moves every queued message into the stash and advances the channel trackers.
func (e *Endpoint) poll() {
	for _, msg := range e.box.drain() {
		switch msg.Kind {
		case KindAbort:
			if e.err == nil {
				e.err = fmt.Errorf("%w: worker %d: %w", ErrAborted, msg.From, msg.Err)
				e.log.V(2).Info("abort received", "from", msg.From, "cause", msg.Err)
			}
		default:
			key := slot{channel: msg.Channel, time: msg.Time}
			e.stash[key] = append(e.stash[key], msg)
			e.tracker(msg.Channel).Advance(msg.From, msg.Time.NextRound())
			e.log.V(6).Info("message received", "kind", msg.Kind.String(), "from", msg.From,
				"channel", msg.Channel, "time", msg.Time.String())
		}
	}
}

func (e *Endpoint) tracker(channel string) *progress.Tracker {
	tr, ok := e.trackers[channel]
	if !ok {
		tr = progress.NewTracker(e.Peers())
		e.trackers[channel] = tr
	}
	return tr
}

func sortBySender(msgs []Message, peers int) []Message {
	ret := make([]Message, 0, len(msgs))
	for i := 0; i < peers; i++ {
		for _, m := range msgs {
			if m.From == i {
				ret = append(ret, m)
			}
		}
	}
	return ret
}
