/*
Copyright 2022 The l7mp/stunner team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/l7mp/ddflow/internal/buildinfo"
	"github.com/l7mp/ddflow/pkg/cc"
	"github.com/l7mp/ddflow/pkg/config"
	"github.com/l7mp/ddflow/pkg/dbsp"
	"github.com/l7mp/ddflow/pkg/graph"
	"github.com/l7mp/ddflow/pkg/metrics"
	"github.com/l7mp/ddflow/pkg/visualize"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// root holds the flags shared by the subcommands.
type root struct {
	configFile string
	zapOpts    zap.Options
	log        logr.Logger
}

func newRootCommand() *cobra.Command {
	r := &root{
		zapOpts: zap.Options{
			Development:     true,
			DestWriter:      os.Stderr,
			StacktraceLevel: zapcore.Level(3),
			TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
		},
	}

	cmd := &cobra.Command{
		Use:          "ddflow",
		Short:        "Incremental, worker-parallel connected components",
		Version:      buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}.String(),
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&r.configFile, "config", "c", "", "Engine config file (YAML).")
	bindLogFlags(cmd.PersistentFlags(), &r.zapOpts)

	cmd.AddCommand(newCCCommand(r), newGenCommand(r), newPlanCommand(r))
	return cmd
}

// bindLogFlags exposes the zap logger options (--zap-log-level, --zap-devel, ...).
func bindLogFlags(flags *pflag.FlagSet, opts *zap.Options) {
	fs := flag.NewFlagSet("zap", flag.ExitOnError)
	opts.BindFlags(fs)
	flags.AddGoFlagSet(fs)
}

// setup loads the config and creates the logger. The log level of the config applies unless
// --zap-log-level is given.
func (r *root) setup(cmd *cobra.Command) (config.Config, error) {
	cfg := config.New()
	if r.configFile != "" {
		var err error
		if cfg, err = config.Load(r.configFile); err != nil {
			return config.Config{}, err
		}
	}

	if !cmd.Flags().Changed("zap-log-level") && cfg.Logging.Level > 0 {
		r.zapOpts.Level = zapcore.Level(-cfg.Logging.Level) //nolint:gosec
	}
	r.log = zap.New(zap.UseFlagOptions(&r.zapOpts)).WithName("ddflow")

	return cfg, nil
}

type ccFlags struct {
	workers     int
	maxRounds   uint64
	symmetric   bool
	seedNodes   bool
	quiet       bool
	metricsAddr string
}

func newCCCommand(r *root) *cobra.Command {
	f := &ccFlags{}
	cmd := &cobra.Command{
		Use:   "cc <graph-file>",
		Short: "Compute the connected components of a graph",
		Long: `Compute the connected components of a graph given as a plain-text edge list, one
"src dst" pair per line. Every label update is printed as ((node, label), time, diff).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := r.setup(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = f.workers
			}
			return runCC(cmd, r.log, cfg, args[0], f)
		},
	}

	cmd.Flags().IntVarP(&f.workers, "workers", "w", 1, "Number of workers, 0 for one per CPU. Overrides the config file.")
	cmd.Flags().Uint64Var(&f.maxRounds, "max-rounds", 0, "Round bound of the label propagation, 0 for the node count plus two.")
	cmd.Flags().BoolVar(&f.symmetric, "symmetric", false, "Treat edges as undirected.")
	cmd.Flags().BoolVar(&f.seedNodes, "seed-nodes", false, "Label nodes without edges as singleton components.")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Do not print label updates.")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-bind-address", "",
		"The address the metric endpoint binds to, e.g., :8080. Empty disables the endpoint.")

	return cmd
}

func runCC(cmd *cobra.Command, log logr.Logger, cfg config.Config, path string, f *ccFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	g, err := graph.Load(path)
	if err != nil {
		return err
	}
	log.Info("graph loaded", "path", path, "nodes", g.NodeCount(), "edges", g.EdgeCount(),
		"duration", time.Since(start))

	var execOpts []dbsp.Option
	if f.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		execOpts = append(execOpts, dbsp.WithMetrics(metrics.New(reg)))
		shutdown := serveMetrics(log, f.metricsAddr, reg)
		defer shutdown()
	}

	out := bufio.NewWriter(cmd.OutOrStdout())
	var mu sync.Mutex
	opts := cc.Options{Symmetric: f.symmetric, SeedNodes: f.seedNodes, MaxRounds: f.maxRounds}
	if !f.quiet {
		opts.Sink = func(l cc.LabelUpdate) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(out, "((%d, %d), %d, %d)\n", l.Key, l.Val, l.Time.Epoch, l.Diff) //nolint:errcheck
		}
	}

	start = time.Now()
	labels, err := cc.Run(ctx, cfg, log, g, opts, execOpts...)
	if ferr := out.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		return err
	}

	components := sets.New[cc.Node]()
	for _, l := range labels {
		components.Insert(l)
	}
	log.Info("connected components computed", "workers", cfg.Complete().Workers, "labeled", len(labels),
		"components", components.Len(), "duration", time.Since(start))

	return nil
}

// serveMetrics starts a Prometheus endpoint and returns a function that stops it.
func serveMetrics(log logr.Logger, addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
	}
}

func newGenCommand(r *root) *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "gen <nodes> <edges> <file>",
		Short: "Generate a random graph",
		Long: `Generate a graph with uniformly random directed edges over node ids 1..nodes and write it
as an edge list. Use "-" as the file name to write to the standard output.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := r.setup(cmd); err != nil {
				return err
			}
			nodes, err := strconv.Atoi(args[0])
			if err != nil || nodes < 0 {
				return fmt.Errorf("invalid node count %q", args[0])
			}
			edges, err := strconv.Atoi(args[1])
			if err != nil || edges < 0 {
				return fmt.Errorf("invalid edge count %q", args[1])
			}
			if err := writeGraph(cmd.OutOrStdout(), args[2], graph.Random(nodes, edges, seed)); err != nil {
				return err
			}
			r.log.V(2).Info("graph generated", "path", args[2], "nodes", nodes, "edges", edges, "seed", seed)
			return nil
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed.")
	return cmd
}

func writeGraph(stdout io.Writer, path string, g *graph.EdgeList) error {
	if path == "-" {
		return graph.Write(stdout, g)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", path, err)
	}
	if err := graph.Write(f, g); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	return f.Close()
}

func newPlanCommand(r *root) *cobra.Command {
	var format string
	var opts cc.Options
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the connected components dataflow",
		Long:  `Print the operator graph of the connected components dataflow as text, DOT or Mermaid.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := r.setup(cmd); err != nil {
				return err
			}
			plan, err := cc.Plan(cmd.Context(), r.log, 0, opts)
			if err != nil {
				return err
			}

			if format == "text" {
				_, err := io.WriteString(cmd.OutOrStdout(), plan.String())
				return err
			}

			g, err := visualize.NewGenerator(format)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), g.Generate(plan))
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, dot or mermaid.")
	cmd.Flags().BoolVar(&opts.Symmetric, "symmetric", false, "Treat edges as undirected.")
	cmd.Flags().BoolVar(&opts.SeedNodes, "seed-nodes", false, "Label nodes without edges as singleton components.")
	return cmd
}
