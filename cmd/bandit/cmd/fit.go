package cmd

import (
	"fmt"
	"os"
	"slices"

	bootstrapts "github.com/n0madic/go-bootstrap-bandits/bootstrap-ts"
	"github.com/n0madic/go-bootstrap-bandits/internal/dataset"
	"github.com/spf13/cobra"
)

var (
	fitData       string
	fitModel      string
	fitArms       int
	fitEstimators int
	fitSeed       int64
	fitWorkers    int
	fitEmptyArm   string
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a bandit from logged interactions and store it",
	Long: `Reads a CSV of logged interactions (features..., arm, reward), fits one
bootstrap ensemble per arm and saves the result in the model store under --model.
When neither --arms nor n_arms is set the arm count is taken from the largest logged arm,
and it may not exceed the number of logged rows.`,
	RunE: runFit,
}

func init() {
	fitCmd.Flags().StringVar(&fitData, "data", "", "CSV file with logged interactions")
	fitCmd.Flags().StringVar(&fitModel, "model", "", "name to store the model under")
	fitCmd.Flags().IntVar(&fitArms, "arms", 0, "number of arms (overrides n_arms)")
	fitCmd.Flags().IntVar(&fitEstimators, "estimators", 0, "ensemble size per arm (overrides n_estimators)")
	fitCmd.Flags().Int64Var(&fitSeed, "seed", 0, "random seed, 0 for time based (overrides seed)")
	fitCmd.Flags().IntVar(&fitWorkers, "workers", 0, "parallel fit workers (overrides workers)")
	fitCmd.Flags().StringVar(&fitEmptyArm, "empty-arm", "", "zero or fail (overrides empty_arm_policy)")
	fitCmd.MarkFlagRequired("data")
	fitCmd.MarkFlagRequired("model")
}

func runFit(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("arms") {
		cfg.NArms = fitArms
	}
	if flags.Changed("estimators") {
		cfg.NEstimators = fitEstimators
	}
	if flags.Changed("seed") {
		cfg.Seed = fitSeed
	}
	if flags.Changed("workers") {
		cfg.Workers = fitWorkers
	}
	if flags.Changed("empty-arm") {
		cfg.EmptyArmPolicy = fitEmptyArm
	}

	f, err := os.Open(fitData)
	if err != nil {
		return err
	}
	defer f.Close()

	logs, err := dataset.ReadLogs(f)
	if err != nil {
		return fmt.Errorf("%s: %w", fitData, err)
	}

	if cfg.NArms == 0 {
		cfg.NArms = slices.Max(logs.ChosenArm) + 1
		if rows := len(logs.ChosenArm); cfg.NArms > rows {
			return fmt.Errorf("inferred %d arms from %d log rows; pass --arms explicitly", cfg.NArms, rows)
		}
		logger.Info("arm count inferred from logs", "n_arms", cfg.NArms)
	}
	if err := cfg.Validate(true); err != nil {
		return err
	}

	opts, err := cfg.BanditOptions(logger)
	if err != nil {
		return err
	}
	bandit, err := bootstrapts.New(cfg.NArms, opts...)
	if err != nil {
		return err
	}
	if err := bandit.Fit(logs.X, logs.ChosenArm, logs.Reward); err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	meta, err := s.Put(fitModel, bandit)
	if err != nil {
		return err
	}
	logger.Info("model stored", "model", meta.Name, "store", cfg.StorePath, "bytes", meta.Size)
	fmt.Fprintf(cmd.OutOrStdout(), "fitted %s: %d arms, %d estimators, sample counts %v\n",
		meta.Name, meta.NArms, meta.NEstimators, meta.SampleCounts)
	return nil
}
