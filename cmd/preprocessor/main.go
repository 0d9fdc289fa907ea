package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/config"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/expression"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/plan"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/preprocessor"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/rulepack"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/temporal"
)

type options struct {
	configPath string
	logLevel   string
	out        string
	name       string
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("Preprocessor failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "preprocessor",
		Short:         "Compile rule files into an execution plan",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	compile := &cobra.Command{
		Use:   "compile <rules>...",
		Short: "Compile JSON/YAML rule files or directories to a plan artifact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := load(cmd, opts, args)
			if err != nil {
				return err
			}
			data, err := plan.Encode(p)
			if err != nil {
				return err
			}
			if opts.out == "" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(opts.out, data, 0o644); err != nil {
				return err
			}
			log.Info().Str("file", opts.out).Int("rules", p.NumRules()).Int("layers", len(p.Layers)).Msg("Plan written")
			return nil
		},
	}
	compile.Flags().StringVarP(&opts.out, "out", "o", "", "output file (default stdout)")
	compile.Flags().StringVar(&opts.name, "name", "", "plan name")

	check := &cobra.Command{
		Use:   "check <rules>...",
		Short: "Compile rule files and report layers, conflicts and warnings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := load(cmd, opts, args)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for i, layer := range p.Layers {
				fmt.Fprintf(w, "layer %d: %v\n", i, layer)
			}
			for _, c := range p.Conflicts {
				fmt.Fprintf(w, "conflict (%s) on %q: %v\n", c.Kind, c.Field, c.Rules)
			}
			for _, warn := range p.Warnings {
				fmt.Fprintf(w, "warning (%s): %s\n", warn.Kind, warn.Message)
			}
			return nil
		},
	}

	root.AddCommand(compile, check)
	return root
}

func load(cmd *cobra.Command, opts *options, paths []string) (*plan.Plan, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	zerolog.SetGlobalLevel(cfg.Level())

	reg := expression.NewRegistry()
	if err := temporal.New(temporal.Options{}).Register(reg); err != nil {
		return nil, err
	}
	copts := cfg.CompileOptions(&log.Logger)
	copts.Functions = reg
	copts.Name = opts.name

	p, err := rulepack.Load(cmd.Context(), paths, copts)
	if err != nil {
		var ce *preprocessor.CompileError
		if errors.As(err, &ce) {
			for _, e := range ce.Errors {
				log.Error().Err(e).Msg("Compile error")
			}
		}
		return nil, err
	}
	return p, nil
}
