package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/n0madic/go-bootstrap-bandits/internal/config"
	"github.com/n0madic/go-bootstrap-bandits/internal/store"
	"github.com/spf13/cobra"
)

var (
	configPath string
	storePath  string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "bandit",
	Short:         "Bootstrap Thompson sampling contextual bandit",
	Long:          "Fit per-arm bootstrap ensembles from logged interactions and choose arms for new contexts.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "bbolt model store (overrides store_path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")

	rootCmd.AddCommand(fitCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(rmCmd)
}

// setup loads the config file, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if storePath != "" {
		loaded.StorePath = storePath
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}

	level, err := loaded.SlogLevel()
	if err != nil {
		return err
	}
	cfg = loaded
	logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func openStore() (*store.Store, error) {
	return store.NewStore(cfg.StorePath)
}
