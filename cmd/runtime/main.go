package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/config"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/expression"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/plan"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/runtime"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/temporal"
)

type options struct {
	configPath string
	logLevel   string
	facts      string
	trace      bool
	metrics    bool
}

type output struct {
	PassID    string           `json:"pass_id"`
	Verdict   *runtime.Verdict `json:"verdict"`
	Fired     []string         `json:"fired"`
	Truncated bool             `json:"truncated"`
	Errors    []string         `json:"errors,omitempty"`
	Trace     []runtime.Event  `json:"trace,omitempty"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Runtime failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "runtime",
		Short:         "Evaluate compiled plans against facts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	run := &cobra.Command{
		Use:   "run <plan>",
		Short: "Run one reasoning pass and print the verdict as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(cmd, opts, args[0])
		},
	}
	run.Flags().StringVar(&opts.facts, "facts", "", "facts file (JSON object); stdin when empty")
	run.Flags().BoolVar(&opts.trace, "trace", false, "include per-rule trace events")
	run.Flags().BoolVar(&opts.metrics, "metrics", false, "print Prometheus metrics to stderr after the pass")

	root.AddCommand(run)
	return root
}

func runPass(cmd *cobra.Command, opts *options, planPath string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	zerolog.SetGlobalLevel(cfg.Level())

	data, err := os.ReadFile(planPath)
	if err != nil {
		return err
	}
	reg := expression.NewRegistry()
	if err := temporal.New(temporal.Options{Logger: &log.Logger}).Register(reg); err != nil {
		return err
	}
	p, err := plan.Decode(data, reg)
	if err != nil {
		return fmt.Errorf("%s: %w", planPath, err)
	}

	facts, err := readFacts(opts.facts)
	if err != nil {
		return err
	}

	eopts := cfg.EngineOptions(&log.Logger)
	var collector runtime.Collector
	if opts.trace {
		eopts.Sink = &collector
	}
	promReg := prometheus.NewRegistry()
	if opts.metrics {
		eopts.Metrics = runtime.NewMetrics(promReg)
	}
	engine := runtime.New(eopts)
	defer engine.Close()

	res, err := engine.Run(cmd.Context(), p, facts)
	if err != nil {
		return err
	}
	log.Info().
		Str("pass_id", res.PassID).
		Int("fired", len(res.Fired)).
		Int("errors", len(res.Errors)).
		Bool("truncated", res.Truncated).
		Dur("duration", res.Duration).
		Msg("Pass completed")

	out := output{
		PassID:    res.PassID,
		Verdict:   res.Verdict,
		Fired:     res.Fired,
		Truncated: res.Truncated,
		Trace:     collector.Events(),
	}
	if out.Fired == nil {
		out.Fired = []string{}
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	if opts.metrics {
		families, err := promReg.Gather()
		if err != nil {
			return err
		}
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(cmd.ErrOrStderr(), mf); err != nil {
				return err
			}
		}
	}
	return nil
}

func readFacts(path string) (map[string]any, error) {
	f := os.Stdin
	if path != "" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
	}
	dec := json.NewDecoder(f)
	dec.UseNumber()
	var facts map[string]any
	if err := dec.Decode(&facts); err != nil {
		return nil, fmt.Errorf("decode facts: %w", err)
	}
	return facts, nil
}
