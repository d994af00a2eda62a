package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"equipguard/internal/dataset"
	"equipguard/internal/model"
	"equipguard/internal/simulator"
)

func newGenerateCommand(root *rootOptions) *cobra.Command {
	var (
		rows    int
		seed    uint64
		output  string
		machine string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic labeled sensor dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, logger, err := root.load()
			if err != nil {
				return err
			}
			sim := mgr.Get().Simulator
			if cmd.Flags().Changed("rows") {
				sim.Rows = rows
			}
			if cmd.Flags().Changed("seed") {
				sim.Seed = seed
			}
			if output != "" {
				sim.Output = output
			}
			if machine != "" {
				sim.MachineID = machine
			}

			readings, err := simulator.Generate(sim.Rows, sim.Seed, simulator.Options{
				MachineID: sim.MachineID,
				Interval:  sim.Interval,
			})
			if err != nil {
				return err
			}
			if err := dataset.WriteCSVFile(sim.Output, readings); err != nil {
				return err
			}
			dist := simulator.Distribution(readings)
			logger.Info("dataset generated",
				"path", sim.Output,
				"rows", len(readings),
				"seed", sim.Seed,
				"healthy", dist[model.StatusHealthy],
				"warning", dist[model.StatusWarning],
				"critical", dist[model.StatusCritical],
			)
			return nil
		},
	}
	cmd.Flags().IntVarP(&rows, "rows", "n", 0, "number of readings (default from config)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV output path (default from config)")
	cmd.Flags().StringVar(&machine, "machine-id", "", "machine id written to every row")
	return cmd
}

func newAnalyzeCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze [dataset.csv]",
		Short: "Summarize class balance, feature ranges and vibration spikes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := root.load()
			if err != nil {
				return err
			}
			path := mgr.Get().Training.DatasetPath
			if len(args) == 1 {
				path = args[0]
			}
			readings, err := dataset.ReadCSVFile(path)
			if err != nil {
				return err
			}
			summary, err := dataset.Summarize(readings)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			_, err = fmt.Fprint(out, summary.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}
