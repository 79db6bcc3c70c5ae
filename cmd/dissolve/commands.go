package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/disorderedmaterials/dissolve-sub015/internal/dissolve"
)

var (
	runOpts dissolve.Options

	rootCmd = &cobra.Command{
		Use:           "dissolve",
		Short:         "Parallel Monte Carlo refinement of molecular configurations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run <config>",
		Short: "Run the moves described by a YAML or TOML config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runOpts.Output = cmd.ErrOrStderr()
			_, err := dissolve.Run(cmd.Context(), args[0], runOpts)
			return err
		},
	}

	validateCmd = &cobra.Command{
		Use:   "validate <config>",
		Short: "Check a config and build its starting configuration without running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sys, err := dissolve.Validate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d atoms, %d molecules, %d species, %d cells, %d moves\n",
				cfg.Name, sys.Start.NAtoms(), sys.Start.NMolecules(), len(sys.Species), sys.Start.Cells().NCells(), len(cfg.Moves))
			return nil
		},
	}
)

func init() {
	f := runCmd.Flags()
	f.IntVarP(&runOpts.Iterations, "iterations", "n", 0, "number of iterations (overrides the config)")
	f.IntVar(&runOpts.Ranks, "ranks", 0, "number of pool ranks")
	f.IntVar(&runOpts.Groups, "groups", 0, "number of rank groups")
	f.StringVar(&runOpts.LogLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&runOpts.LogFormat, "log-format", "", "text or json")
	f.StringVar(&runOpts.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	f.StringVar(&runOpts.Checkpoint, "checkpoint", "", "checkpoint directory")
	rootCmd.AddCommand(runCmd, validateCmd)
}
