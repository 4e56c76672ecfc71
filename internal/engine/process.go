package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/proof-inspector-go/internal/errors"
	"github.com/anime-shed/proof-inspector-go/internal/logger"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
)

// processWaitDelay bounds how long a killed child's grandchildren may hold the output pipes
const processWaitDelay = 2 * time.Second

// ProcessConfig locates the analysis script and its interpreter
type ProcessConfig struct {
	// Script is the analysis script; relative paths are resolved against WorkDir
	Script string
	// Python, when set, is used instead of searching for an interpreter
	Python string
	// WorkDir is the child's working directory and the root of the .venv search.
	// Defaults to the current directory.
	WorkDir string
}

// ProcessEngine runs the analysis script as a child process per unit of work.
// The child writes one JSON document to stdout; any non-zero exit is a failure.
type ProcessEngine struct {
	script   string
	python   string
	workDir  string
	lookPath func(string) (string, error)
}

// NewProcessEngine creates an engine backed by an external interpreter
func NewProcessEngine(cfg ProcessConfig) *ProcessEngine {
	workDir := cfg.WorkDir
	if workDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workDir = wd
		}
	}
	script := cfg.Script
	if script != "" && !filepath.IsAbs(script) {
		script = filepath.Join(workDir, script)
	}
	return &ProcessEngine{
		script:   script,
		python:   cfg.Python,
		workDir:  workDir,
		lookPath: exec.LookPath,
	}
}

// wireResult mirrors AnalysisResult with the required sections as pointers
// so missing sections can be told apart from zero values.
type wireResult struct {
	Profile  *models.ProfileEntry     `json:"profile"`
	Settings *models.AnalysisSettings `json:"settings"`
	Stats    *models.Stats            `json:"stats"`
	TAC      *models.TAC              `json:"tac"`
	Previews models.Previews          `json:"previews"`
}

// Analyze runs the script for one (image, profile) pair
func (e *ProcessEngine) Analyze(ctx context.Context, imagePath string, settings models.AnalysisSettings, profile models.ProfileEntry) (*models.AnalysisResult, error) {
	if err := checkInputs(imagePath, profile); err != nil {
		return nil, err
	}

	interpreter, err := e.resolveInterpreter()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(e.script); err != nil {
		return nil, apperrors.NewEngineUnavailableError("analysis script not found", err).WithDetails(e.script)
	}

	settings.OutputProfilePath = profile.Path
	args := BuildArgs(e.script, imagePath, settings)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, interpreter, args...)
	cmd.Dir = e.workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = processWaitDelay

	start := time.Now()
	runErr := cmd.Run()
	log := logger.WithFields(logrus.Fields{
		"profile":  profile.Name,
		"duration": time.Since(start),
	})

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.WithError(ctxErr).Debug("Engine run interrupted")
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = fmt.Sprintf("engine exited with code %d", exitErr.ExitCode())
			}
			log.WithField("exit_code", exitErr.ExitCode()).Warn("Engine run failed")
			return nil, apperrors.NewEngineFailureError("analysis failed", runErr).WithDetails(detail)
		}
		return nil, apperrors.NewEngineUnavailableError("failed to start analysis engine", runErr)
	}

	result, err := decodeResult(stdout.Bytes())
	if err != nil {
		log.WithError(err).Warn("Engine output rejected")
		return nil, err
	}
	mergeProfile(result, profile)

	log.Debug("Engine run completed")
	return result, nil
}

func decodeResult(out []byte) (*models.AnalysisResult, error) {
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, apperrors.NewEngineProtocolError("engine produced no output", nil)
	}

	var wire wireResult
	if err := json.Unmarshal(out, &wire); err != nil {
		return nil, apperrors.NewEngineProtocolError("failed to parse analysis output", err)
	}
	if wire.Stats == nil {
		return nil, apperrors.NewEngineProtocolError("analysis output is missing stats", nil)
	}

	result := &models.AnalysisResult{
		Stats:    *wire.Stats,
		Previews: wire.Previews,
	}
	if wire.Profile != nil {
		result.Profile = *wire.Profile
	}
	if wire.Settings != nil {
		result.Settings = *wire.Settings
	}
	if wire.TAC != nil {
		result.TAC = *wire.TAC
	}
	return result, nil
}

// mergeProfile replaces the engine's sparse profile block with the registry entry,
// keeping the engine's channel count when the header did not yield one.
func mergeProfile(result *models.AnalysisResult, profile models.ProfileEntry) {
	channels := result.Profile.Channels
	result.Profile = profile
	if result.Profile.Channels == nil {
		result.Profile.Channels = channels
	}
}

// BuildArgs assembles the script command line. Optional flags are appended
// only when the corresponding setting is present.
func BuildArgs(script, imagePath string, s models.AnalysisSettings) []string {
	args := []string{
		script,
		"--image", imagePath,
		"--output-profile", s.OutputProfilePath,
		"--rendering-intent", string(s.RenderingIntent),
		"--max-size", strconv.Itoa(s.MaxSize),
		"--thresholds", formatFloat(s.DeltaEThresholds[0]) + "," + formatFloat(s.DeltaEThresholds[1]),
		"--rank-weights", formatFloat(s.RankWeights.P95) + "," + formatFloat(s.RankWeights.Mean),
	}
	if s.InputProfilePath != "" {
		args = append(args, "--input-profile", s.InputProfilePath)
	}
	if s.BlackPointCompensation {
		args = append(args, "--black-point-compensation")
	}
	if s.TACLimit != nil {
		args = append(args, "--tac-limit", formatFloat(*s.TACLimit))
	}
	return args
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// resolveInterpreter returns the configured interpreter, else the first of
// the project venv interpreters and python3/python on PATH.
func (e *ProcessEngine) resolveInterpreter() (string, error) {
	if e.python != "" {
		path, err := e.lookPath(e.python)
		if err != nil {
			return "", apperrors.NewEngineUnavailableError("configured interpreter not found", err).WithDetails(e.python)
		}
		return path, nil
	}

	for _, candidate := range e.candidates() {
		if filepath.IsAbs(candidate) {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
			continue
		}
		if path, err := e.lookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", apperrors.NewEngineUnavailableError(
		"no python interpreter found; install Python 3.10+ or create a .venv", nil)
}

func (e *ProcessEngine) candidates() []string {
	var out []string
	if e.workDir != "" {
		out = append(out,
			filepath.Join(e.workDir, ".venv", "bin", "python"),
			filepath.Join(e.workDir, ".venv", "Scripts", "python.exe"),
		)
	}
	return append(out, "python3", "python")
}
