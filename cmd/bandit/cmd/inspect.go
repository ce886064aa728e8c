package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <model>",
	Short: "Show statistics of a stored model",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List stored models",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

func runInspect(cmd *cobra.Command, args []string) error {
	bandit, err := loadModel(args[0])
	if err != nil {
		return err
	}

	stats := bandit.GetStats()
	for arm := range bandit.NArms() {
		kinds, err := bandit.EnsembleKinds(arm)
		if err != nil {
			return err
		}
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = k.String()
		}
		stats[fmt.Sprintf("arm_%d_slots", arm)] = strings.Join(names, ",")
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runModels(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	metas, err := s.List()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tARMS\tESTIMATORS\tFEATURES\tSAMPLES\tSAVED")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%v\t%s\n",
			m.Name, m.NArms, m.NEstimators, m.NFeatures, m.SampleCounts, m.SavedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}
