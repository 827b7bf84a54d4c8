// Package progress implements the logical timestamps and the frontier bookkeeping used to decide
// when a dataflow has seen all updates for a given time.
//
// A Time is an (epoch, round) pair ordered lexicographically: the epoch counts externally supplied
// input batches and the round counts passes of an iteration scope. A frontier is the least time
// at which some participant may still produce updates. Frontiers from several workers are combined
// with a pointwise minimum, which is commutative and associative, so the result does not depend on
// the order in which progress reports arrive.
package progress

import (
	"fmt"
	"math"
)

// Time is a logical timestamp.
type Time struct {
	Epoch uint64 `json:"epoch"`
	Round uint64 `json:"round"`
}

// Top is the greatest time. A frontier at Top is closed: no further updates will arrive.
var Top = Time{Epoch: math.MaxUint64, Round: math.MaxUint64}

// Compare returns -1, 0 or +1 depending on whether t is less than, equal to or greater than o.
func (t Time) Compare(o Time) int {
	switch {
	case t.Epoch < o.Epoch:
		return -1
	case t.Epoch > o.Epoch:
		return 1
	case t.Round < o.Round:
		return -1
	case t.Round > o.Round:
		return 1
	}
	return 0
}

func (t Time) Less(o Time) bool      { return t.Compare(o) < 0 }
func (t Time) LessEqual(o Time) bool { return t.Compare(o) <= 0 }

// IsTop reports whether t is the closed frontier.
func (t Time) IsTop() bool { return t == Top }

// NextRound returns the time of the next iteration round within the same epoch.
func (t Time) NextRound() Time {
	if t.IsTop() {
		return Top
	}
	return Time{Epoch: t.Epoch, Round: t.Round + 1}
}

// Outer strips the round, i.e., maps a time inside an iteration scope to the enclosing scope.
func (t Time) Outer() Time {
	if t.IsTop() {
		return Top
	}
	return Time{Epoch: t.Epoch}
}

// String implements fmt.Stringer.
func (t Time) String() string {
	if t.IsTop() {
		return "⊤"
	}
	return fmt.Sprintf("(%d,%d)", t.Epoch, t.Round)
}

// Min returns the lesser of two times.
func Min(a, b Time) Time {
	if b.Less(a) {
		return b
	}
	return a
}

// Max returns the greater of two times.
func Max(a, b Time) Time {
	if a.Less(b) {
		return b
	}
	return a
}
