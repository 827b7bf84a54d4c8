// Package testutils holds helpers shared by the test suites.
package testutils

import (
	"io"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// LogLevel is the default verbosity of test loggers. Lower it (e.g., -10) to trace the dataflow.
var LogLevel = -1

// NewLogger returns a development logger writing into w, typically GinkgoWriter.
func NewLogger(w io.Writer, level int) logr.Logger {
	return zap.New(zap.UseFlagOptions(&zap.Options{
		Development:     true,
		DestWriter:      w,
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
		Level:           zapcore.Level(level), //nolint:gosec
	}))
}

// Edge is a directed edge between two node ids.
type Edge struct{ Src, Dst uint32 }

var (
	// ChainAndPair is the graph {(1,2),(2,3),(4,5)}.
	ChainAndPair = []Edge{{1, 2}, {2, 3}, {4, 5}}

	// Cycle is a directed 4-cycle with a tail, labeled from its minimum.
	Cycle = []Edge{{4, 3}, {3, 2}, {2, 1}, {1, 4}, {2, 7}}
)
