package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	apperrors "github.com/anime-shed/proof-inspector-go/internal/errors"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
)

// Defaults are the named fallbacks for every optional analysis setting
type Defaults struct {
	RenderingIntent        models.RenderingIntent
	BlackPointCompensation bool
	MaxSize                int
	DeltaEThresholds       [2]float64
	TACLimit               *float64
	RankWeights            models.RankWeights
}

// DefaultDefaults returns the built-in analysis defaults
func DefaultDefaults() Defaults {
	return Defaults{
		RenderingIntent:        models.IntentRelative,
		BlackPointCompensation: true,
		MaxSize:                1024,
		DeltaEThresholds:       [2]float64{2, 5},
		RankWeights:            models.RankWeights{P95: 0.7, Mean: 0.3},
	}
}

// Validate checks the defaults with the same rules applied to requests
func (d Defaults) Validate() error {
	_, err := NewSettingsValidator(d).Normalize(PartialSettings{})
	return err
}

// PartialSettings is the user supplied subset of AnalysisSettings.
// Nil fields take their value from Defaults.
type PartialSettings struct {
	InputProfilePath       *string                 `json:"inputProfilePath,omitempty"`
	OutputProfilePath      *string                 `json:"outputProfilePath,omitempty"`
	RenderingIntent        *models.RenderingIntent `json:"renderingIntent,omitempty"`
	BlackPointCompensation *bool                   `json:"blackPointCompensation,omitempty"`
	MaxSize                *int                    `json:"maxSize,omitempty"`
	// DeltaEThresholds may carry only t1; a missing t2 keeps its default.
	DeltaEThresholds []float64           `json:"deltaEThresholds,omitempty"`
	TACLimit         *float64            `json:"tacLimit,omitempty"`
	RankWeights      *PartialRankWeights `json:"rankWeights,omitempty"`
}

// PartialRankWeights overrides each rank weight independently
type PartialRankWeights struct {
	P95  *float64 `json:"p95,omitempty"`
	Mean *float64 `json:"mean,omitempty"`
}

// ParsePartialSettings decodes the settings form field.
// Empty or malformed input yields empty settings so that defaults apply.
func ParsePartialSettings(raw string) PartialSettings {
	var p PartialSettings
	if strings.TrimSpace(raw) == "" {
		return p
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return PartialSettings{}
	}
	return p
}

// SettingsValidator merges partial settings onto defaults and validates the result
type SettingsValidator struct {
	defaults Defaults
}

// NewSettingsValidator creates a validator around the given defaults
func NewSettingsValidator(defaults Defaults) *SettingsValidator {
	return &SettingsValidator{defaults: defaults}
}

// Normalize applies defaults field by field and validates the merged settings.
// The output profile path is left as supplied; the orchestrator sets it per profile.
func (v *SettingsValidator) Normalize(p PartialSettings) (models.AnalysisSettings, error) {
	s := models.AnalysisSettings{
		RenderingIntent:        v.defaults.RenderingIntent,
		BlackPointCompensation: v.defaults.BlackPointCompensation,
		MaxSize:                v.defaults.MaxSize,
		DeltaEThresholds:       v.defaults.DeltaEThresholds,
		RankWeights:            v.defaults.RankWeights,
	}
	if v.defaults.TACLimit != nil {
		limit := *v.defaults.TACLimit
		s.TACLimit = &limit
	}

	if p.InputProfilePath != nil {
		s.InputProfilePath = strings.TrimSpace(*p.InputProfilePath)
	}
	if p.OutputProfilePath != nil {
		s.OutputProfilePath = strings.TrimSpace(*p.OutputProfilePath)
	}
	if p.RenderingIntent != nil {
		s.RenderingIntent = *p.RenderingIntent
	}
	if p.BlackPointCompensation != nil {
		s.BlackPointCompensation = *p.BlackPointCompensation
	}
	if p.MaxSize != nil {
		s.MaxSize = *p.MaxSize
	}
	if len(p.DeltaEThresholds) > len(s.DeltaEThresholds) {
		return models.AnalysisSettings{}, apperrors.NewValidationError(
			fmt.Sprintf("deltaEThresholds takes at most 2 values (got %d)", len(p.DeltaEThresholds)), nil)
	}
	copy(s.DeltaEThresholds[:], p.DeltaEThresholds)
	if p.TACLimit != nil {
		limit := *p.TACLimit
		s.TACLimit = &limit
	}
	if w := p.RankWeights; w != nil {
		if w.P95 != nil {
			s.RankWeights.P95 = *w.P95
		}
		if w.Mean != nil {
			s.RankWeights.Mean = *w.Mean
		}
	}

	if err := v.validate(s); err != nil {
		return models.AnalysisSettings{}, err
	}
	return s, nil
}

func (v *SettingsValidator) validate(s models.AnalysisSettings) error {
	if !s.RenderingIntent.Valid() {
		return apperrors.NewValidationError(
			fmt.Sprintf("unknown rendering intent %q (expected relative, perceptual, saturation or absolute)", s.RenderingIntent), nil)
	}
	if s.MaxSize < 0 {
		return apperrors.NewValidationError(fmt.Sprintf("maxSize must be >= 0 (got %d)", s.MaxSize), nil)
	}

	t1, t2 := s.DeltaEThresholds[0], s.DeltaEThresholds[1]
	if !finite(t1) || !finite(t2) || t1 < 0 {
		return apperrors.NewValidationError("deltaEThresholds must be finite and non-negative", nil)
	}
	if t1 >= t2 {
		return apperrors.NewValidationError(
			fmt.Sprintf("deltaEThresholds must be ordered t1 < t2 (got %g, %g)", t1, t2), nil)
	}

	if s.TACLimit != nil && (!finite(*s.TACLimit) || *s.TACLimit <= 0) {
		return apperrors.NewValidationError(fmt.Sprintf("tacLimit must be > 0 (got %g)", *s.TACLimit), nil)
	}

	w := s.RankWeights
	if !finite(w.P95) || !finite(w.Mean) || w.P95 < 0 || w.Mean < 0 {
		return apperrors.NewValidationError("rankWeights must be finite and non-negative", nil)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
