package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/anime-shed/proof-inspector-go/internal/container"
	"github.com/anime-shed/proof-inspector-go/internal/logger"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
)

// NewProfilesCmd creates the profiles command.
func NewProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List available color profiles",
		Args:  cobra.NoArgs,
		RunE:  runProfiles,
	}
	cmd.Flags().Bool("json", false, "Print JSON instead of a markdown table")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <file>",
		Short: "Copy an ICC profile into the user profile directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfilesAdd,
	})
	return cmd
}

func newCLIContainer(cmd *cobra.Command) (*container.Container, error) {
	// stdout carries command output
	logger.SetOutput(cmd.ErrOrStderr())

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return container.NewContainer(cfg)
}

func runProfiles(cmd *cobra.Command, _ []string) error {
	c, err := newCLIContainer(cmd)
	if err != nil {
		return err
	}

	profiles, err := c.Service().ListProfiles(cmd.Context())
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd, models.ProfilesResponse{Profiles: profiles})
	}
	return writeProfiles(cmd.OutOrStdout(), profiles)
}

func runProfilesAdd(cmd *cobra.Command, args []string) error {
	c, err := newCLIContainer(cmd)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}

	entry, err := c.Service().UploadProfile(cmd.Context(), filepath.Base(args[0]), data)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", entry.Name, entry.Path)
	return nil
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
