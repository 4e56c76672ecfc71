package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anime-shed/proof-inspector-go/internal/config"
	"github.com/anime-shed/proof-inspector-go/internal/logger"
	"github.com/anime-shed/proof-inspector-go/internal/transport"
)

// NewRootCmd creates the root command. Without a subcommand it serves HTTP.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof-inspector",
		Short: "Soft-proof images against printer ICC profiles",
		Long: `proof-inspector simulates printing an image through one or more output
ICC profiles and reports the perceptual color error (Delta E 2000) of each proof.

Profiles are read from PROFILE_DIR and its user/ subdirectory. The analysis
itself runs in an external Python engine (ENGINE_SCRIPT).`,
		Version:       transport.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				logger.SetLevel(level)
			}
		},
		RunE: runServe,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "YAML config file (defaults to $CONFIG_FILE)")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewProfilesCmd())
	cmd.AddCommand(NewAnalyzeCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
