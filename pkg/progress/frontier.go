package progress

import (
	"fmt"
	"strings"
)

// Tracker keeps the frontier reported by each participant of a channel. The global frontier is
// the pointwise minimum of the reports. Reports are monotone: a participant may never move its
// frontier backwards, and regressions are ignored.
type Tracker struct {
	peers []Time
}

// NewTracker returns a tracker for n participants, all starting at the least time.
func NewTracker(n int) *Tracker {
	return &Tracker{peers: make([]Time, n)}
}

// Advance records that participant peer will not produce updates below t. It returns true if the
// global frontier moved.
func (tr *Tracker) Advance(peer int, t Time) bool {
	if peer < 0 || peer >= len(tr.peers) || !tr.peers[peer].Less(t) {
		return false
	}
	before := tr.Frontier()
	tr.peers[peer] = t
	return before != tr.Frontier()
}

// Frontier returns the global frontier.
func (tr *Tracker) Frontier() Time {
	if len(tr.peers) == 0 {
		return Top
	}
	f := tr.peers[0]
	for _, t := range tr.peers[1:] {
		f = Min(f, t)
	}
	return f
}

// Passed reports whether every participant has moved strictly beyond t.
func (tr *Tracker) Passed(t Time) bool {
	return t.Less(tr.Frontier())
}

// Peer returns the frontier reported by a single participant.
func (tr *Tracker) Peer(peer int) Time { return tr.peers[peer] }

// String implements fmt.Stringer.
func (tr *Tracker) String() string {
	ts := make([]string, len(tr.peers))
	for i, t := range tr.peers {
		ts[i] = t.String()
	}
	return fmt.Sprintf("frontier=%s peers=[%s]", tr.Frontier(), strings.Join(ts, ","))
}

// Summary is the per-worker input progress exchanged when workers agree on which epochs to run.
// Frontier is the least epoch the worker may still insert at (Top once all inputs are closed) and
// Horizon is one past the highest epoch the worker has sealed.
type Summary struct {
	Frontier Time   `json:"frontier"`
	Horizon  uint64 `json:"horizon"`
}

// Combine merges two summaries: the frontier is a pointwise minimum, the horizon a maximum.
func (s Summary) Combine(o Summary) Summary {
	h := s.Horizon
	if o.Horizon > h {
		h = o.Horizon
	}
	return Summary{Frontier: Min(s.Frontier, o.Frontier), Horizon: h}
}

// Done reports whether a combined summary shows that every input is closed and all epochs below
// next have been processed.
func (s Summary) Done(next uint64) bool {
	return s.Frontier.IsTop() && next >= s.Horizon
}

// End returns the exclusive upper bound of the epochs that are safe to process.
func (s Summary) End() uint64 {
	if s.Frontier.IsTop() {
		return s.Horizon
	}
	return s.Frontier.Epoch
}
