// Package dbsp implements a worker-parallel incremental dataflow engine on Z-sets (multisets with
// integer multiplicities). See detailed documentation on the theory in
// https://mihaibudiu.github.io/work/dbsp-spec.pdf.
//
// A computation is a graph of typed operators. Collections are the edges: at every logical time
// a collection carries the batch of changes its producer emitted, never the full contents, and
// every operator turns the changes of its inputs into the changes of its output.
//
// Key components:
//   - ZSet, Batch: Z-sets of (key, value) pairs and consolidated update batches.
//   - Index: per-key sorted value lists with batched compaction, the state of stateful operators.
//   - InputSession: inserts and retracts records at an epoch and seals epochs.
//   - Graph: the explicit operator graph and its topological schedule.
//   - Scope: a nested graph iterated to a fixpoint with distributed convergence detection.
//   - Worker, Execute: the parallel runtime on top of package exchange.
//
// Operator types:
//   - Linear: Map, Filter, Concat, Negate, Inspect (applied directly to deltas).
//   - Bilinear: Join (incremental by the expansion Δ(L⋈R) = ΔL⋈(R+ΔR) + L⋈ΔR).
//   - Nonlinear: Reduce, Min, Distinct (incremental by D ∘ F ∘ I over the touched keys).
//   - Structural: inputs, exchanges, enter, variable and iterate.
//
// Each worker builds the same graph and owns the keys that hash to it; Join, Reduce and Distinct
// exchange their inputs by key before touching their indexes.
//
// Example usage:
//
//	err := dbsp.Execute(ctx, cfg, log, func(w *dbsp.Worker) error {
//		var edges *dbsp.InputSession[uint32, uint32]
//		if err := w.Dataflow(func(g *dbsp.Graph) {
//			var in *dbsp.Collection[uint32, uint32]
//			in, edges = dbsp.NewInput[uint32, uint32](g, "edges")
//			dbsp.Inspect(dbsp.Distinct(in), sink.Push)
//		}); err != nil {
//			return err
//		}
//		return edges.Insert(1, 2)
//	})
package dbsp
