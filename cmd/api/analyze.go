package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/anime-shed/proof-inspector-go/internal/service"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
	"github.com/anime-shed/proof-inspector-go/pkg/validation"
)

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <image>...",
		Short: "Soft-proof local images without starting the server",
		Example: `  proof-inspector analyze --profile coated.icc photo.jpg
  proof-inspector analyze --mode compare --profile coated.icc --profile uncoated.icc photo.jpg
  proof-inspector analyze --mode batch --settings '{"renderingIntent":"perceptual"}' *.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAnalyze,
	}
	cmd.Flags().StringP("mode", "m", "single", "Analysis mode: single, compare or batch")
	cmd.Flags().StringArrayP("profile", "p", nil, "Output profile name or path (repeatable)")
	cmd.Flags().String("settings", "", "Settings as a JSON object")
	cmd.Flags().String("input-profile", "", "ICC profile describing the source images")
	cmd.Flags().String("sort", "", "Sort compare results by rank_score, mean_de, p95_de or max_de")
	cmd.Flags().Bool("json", false, "Print JSON instead of markdown tables")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	c, err := newCLIContainer(cmd)
	if err != nil {
		return err
	}

	mode, _ := cmd.Flags().GetString("mode")
	selectors, _ := cmd.Flags().GetStringArray("profile")
	rawSettings, _ := cmd.Flags().GetString("settings")
	inputProfile, _ := cmd.Flags().GetString("input-profile")
	sortBy, _ := cmd.Flags().GetString("sort")

	req := service.AnalysisRequest{
		Mode:             models.AnalysisMode(mode),
		Settings:         validation.ParsePartialSettings(rawSettings),
		ProfileSelectors: selectors,
		SortBy:           sortBy,
	}
	for _, path := range args {
		req.Images = append(req.Images, fileUpload(path))
	}
	if inputProfile != "" {
		in := fileUpload(inputProfile)
		req.InputProfile = &in
	}

	ctx := cmd.Context()
	if timeout := c.Config().RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := c.Service().Analyze(ctx, req)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		switch resp.Mode {
		case models.ModeBatch:
			return writeJSON(cmd, map[string]interface{}{"results": resp.Batch})
		case models.ModeCompare:
			return writeJSON(cmd, map[string]interface{}{"results": resp.Results})
		default:
			return writeJSON(cmd, map[string]interface{}{"result": resp.Result})
		}
	}
	return writeAnalysis(cmd.OutOrStdout(), resp)
}

func fileUpload(path string) service.Upload {
	return service.Upload{
		Filename: filepath.Base(path),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}
