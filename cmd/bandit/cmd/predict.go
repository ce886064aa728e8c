package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	bootstrapts "github.com/n0madic/go-bootstrap-bandits/bootstrap-ts"
	"github.com/n0madic/go-bootstrap-bandits/internal/dataset"
	"github.com/spf13/cobra"
)

var (
	predictData   string
	predictModel  string
	predictScores bool
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Choose an arm for every context row",
	Long: `Loads --model from the store and prints the chosen arm for every row of the
--data CSV, one per line. With --scores the sampled score of every arm is printed instead.`,
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().StringVar(&predictData, "data", "", "CSV file with context rows")
	predictCmd.Flags().StringVar(&predictModel, "model", "", "stored model name")
	predictCmd.Flags().BoolVar(&predictScores, "scores", false, "print per-arm scores instead of arms")
	predictCmd.MarkFlagRequired("data")
	predictCmd.MarkFlagRequired("model")
}

// loadModel opens the store and decodes name with options taken from the config.
func loadModel(name string) (*bootstrapts.Bandit, error) {
	if err := cfg.Validate(false); err != nil {
		return nil, err
	}
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return s.Get(name,
		bootstrapts.WithLogger(logger),
		bootstrapts.WithWorkers(cfg.Workers),
		bootstrapts.WithRandomSeed(cfg.Seed),
		bootstrapts.WithLearner(cfg.LearnerFactory()),
	)
}

func runPredict(cmd *cobra.Command, args []string) error {
	bandit, err := loadModel(predictModel)
	if err != nil {
		return err
	}

	f, err := os.Open(predictData)
	if err != nil {
		return err
	}
	defer f.Close()

	X, err := dataset.ReadContexts(f)
	if err != nil {
		return fmt.Errorf("%s: %w", predictData, err)
	}

	if !predictScores {
		arms, err := bandit.Predict(X)
		if err != nil {
			return err
		}
		return dataset.WriteArms(cmd.OutOrStdout(), arms)
	}

	scores, err := bandit.Scores(X)
	if err != nil {
		return err
	}
	nArms, rows := scores.Dims()
	w := csv.NewWriter(cmd.OutOrStdout())
	record := make([]string, nArms)
	for i := range rows {
		for a := range nArms {
			record[a] = strconv.FormatFloat(scores.At(a, i), 'g', 6, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
