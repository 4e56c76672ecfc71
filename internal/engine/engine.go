package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/anime-shed/proof-inspector-go/internal/errors"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
)

// Engine runs one soft-proof analysis of an image against an output profile.
// Implementations must be safe for concurrent use.
type Engine interface {
	Analyze(ctx context.Context, imagePath string, settings models.AnalysisSettings, profile models.ProfileEntry) (*models.AnalysisResult, error)
}

// Func adapts a plain function to the Engine interface
type Func func(ctx context.Context, imagePath string, settings models.AnalysisSettings, profile models.ProfileEntry) (*models.AnalysisResult, error)

// Analyze calls f
func (f Func) Analyze(ctx context.Context, imagePath string, settings models.AnalysisSettings, profile models.ProfileEntry) (*models.AnalysisResult, error) {
	return f(ctx, imagePath, settings, profile)
}

// WithTimeout bounds every invocation of e by d. A non-positive d returns e unchanged.
func WithTimeout(e Engine, d time.Duration) Engine {
	if d <= 0 {
		return e
	}
	return &timeoutEngine{next: e, timeout: d}
}

type timeoutEngine struct {
	next    Engine
	timeout time.Duration
}

// Analyze reports an engine failure only when its own deadline fired.
// Expiry or cancellation of the caller's context is returned as the caller's error.
func (t *timeoutEngine) Analyze(parent context.Context, imagePath string, settings models.AnalysisSettings, profile models.ProfileEntry) (*models.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(parent, t.timeout)
	defer cancel()

	result, err := t.next.Analyze(ctx, imagePath, settings, profile)
	if err == nil {
		return result, nil
	}
	if parentErr := parent.Err(); parentErr != nil {
		return nil, parentErr
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, apperrors.NewEngineFailureError(
			fmt.Sprintf("analysis timed out after %s", t.timeout), err)
	}
	return nil, err
}

func checkInputs(imagePath string, profile models.ProfileEntry) error {
	if imagePath == "" {
		return apperrors.NewValidationError("image path is required", nil)
	}
	if profile.Path == "" {
		return apperrors.NewValidationError("output profile path is required", nil)
	}
	return nil
}
