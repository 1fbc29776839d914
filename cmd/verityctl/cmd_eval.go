package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aws-agent/verity/internal/engine"
	"github.com/aws-agent/verity/internal/evaluation"
	"github.com/aws-agent/verity/pkg/config"
)

var evalFlags struct {
	dataset     string
	workers     int
	asJSON      bool
	minAccuracy float64
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Run a labelled dataset through the engine and report accuracy",
	RunE:  runEval,
}

func init() {
	f := evalCmd.Flags()
	f.StringVar(&evalFlags.dataset, "dataset", "", "dataset file, .json or .yaml (required)")
	f.IntVar(&evalFlags.workers, "workers", 4, "items evaluated concurrently")
	f.BoolVar(&evalFlags.asJSON, "json", false, "print the report as JSON")
	f.Float64Var(&evalFlags.minAccuracy, "min-accuracy", 0, "fail when accuracy on labelled items is below this percentage")

	_ = evalCmd.MarkFlagRequired("dataset")
}

func runEval(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	dataset, err := evaluation.LoadDataset(evalFlags.dataset)
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	report, err := evaluation.NewEvaluator(eng, evalFlags.workers).RunDatasetEvaluation(cmd.Context(), dataset)
	if err != nil {
		return fmt.Errorf("run dataset: %w", err)
	}

	out := cmd.OutOrStdout()
	if evalFlags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, evaluation.GenerateReport(report))
	}

	if evalFlags.minAccuracy > 0 && report.Labelled > 0 && report.Accuracy < evalFlags.minAccuracy {
		return fmt.Errorf("accuracy %.1f%% is below %.1f%%", report.Accuracy, evalFlags.minAccuracy)
	}
	return nil
}
