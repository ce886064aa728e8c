package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <model>...",
	Short: "Delete stored models",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

func runRm(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	for _, name := range args {
		if err := s.Delete(name); err != nil {
			return err
		}
		logger.Debug("model deleted", "model", name)
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
	}
	return nil
}
