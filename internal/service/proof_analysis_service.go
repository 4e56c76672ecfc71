package service

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/anime-shed/proof-inspector-go/internal/engine"
	apperrors "github.com/anime-shed/proof-inspector-go/internal/errors"
	"github.com/anime-shed/proof-inspector-go/internal/logger"
	"github.com/anime-shed/proof-inspector-go/internal/observer"
	"github.com/anime-shed/proof-inspector-go/internal/profile"
	"github.com/anime-shed/proof-inspector-go/internal/ranking"
	"github.com/anime-shed/proof-inspector-go/internal/staging"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
	"github.com/anime-shed/proof-inspector-go/pkg/validation"
)

// DefaultMaxConcurrency bounds concurrent engine runs per request when unset
const DefaultMaxConcurrency = 2

// Upload is an uploaded file that can be opened for reading
type Upload struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

// AnalysisRequest is one analysis request as received from a caller
type AnalysisRequest struct {
	Mode             models.AnalysisMode
	Settings         validation.PartialSettings
	ProfileSelectors []string
	Images           []Upload
	InputProfile     *Upload
	// SortBy orders compare results; empty keeps the profile order
	SortBy string
}

// AnalysisResponse carries exactly one of Result, Results or Batch depending on Mode
type AnalysisResponse struct {
	Mode    models.AnalysisMode
	Result  *models.AnalysisResult
	Results []models.AnalysisResult
	Batch   []models.BatchEntry
}

// ProofAnalysisService coordinates profile resolution, staging and engine runs
type ProofAnalysisService interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error)
	ListProfiles(ctx context.Context) ([]models.ProfileEntry, error)
	UploadProfile(ctx context.Context, name string, data []byte) (models.ProfileEntry, error)
}

// Options tunes the orchestrator
type Options struct {
	MaxConcurrency int
}

type proofAnalysisService struct {
	registry  profile.Registry
	engine    engine.Engine
	stager    *staging.Stager
	validator *validation.SettingsValidator
	events    observer.Subject
	limit     int
}

// NewProofAnalysisService creates a new orchestrator
func NewProofAnalysisService(
	registry profile.Registry,
	eng engine.Engine,
	stager *staging.Stager,
	validator *validation.SettingsValidator,
	events observer.Subject,
	opts Options,
) ProofAnalysisService {
	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}
	if events == nil {
		events = observer.NewEventPublisher()
	}
	return &proofAnalysisService{
		registry:  registry,
		engine:    eng,
		stager:    stager,
		validator: validator,
		events:    events,
		limit:     limit,
	}
}

// plan is a validated request, ready for staging
type plan struct {
	id       string
	mode     models.AnalysisMode
	settings models.AnalysisSettings
	profiles []models.ProfileEntry
	sortBy   ranking.Metric
}

// unit is one (image, profile) pair
type unit struct {
	image   int
	profile models.ProfileEntry
}

// Analyze validates the request, stages its files, runs the engine for every
// unit of work and shapes the response. Staged files are released on every path.
func (s *proofAnalysisService) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error) {
	p, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	s.publish(ctx, observer.AnalysisEvent{
		EventType: observer.AnalysisStarted,
		RequestID: p.id,
		Mode:      string(p.mode),
		Metadata: map[string]interface{}{
			"images":   len(req.Images),
			"profiles": len(p.profiles),
		},
	})

	resp, err := s.run(ctx, p, req)
	if err != nil {
		s.publish(ctx, observer.AnalysisEvent{
			EventType:      observer.AnalysisFailed,
			RequestID:      p.id,
			Mode:           string(p.mode),
			ProcessingTime: time.Since(start),
			ErrorMessage:   err.Error(),
		})
		return nil, err
	}

	s.publish(ctx, observer.AnalysisEvent{
		EventType:      observer.AnalysisCompleted,
		RequestID:      p.id,
		Mode:           string(p.mode),
		ProcessingTime: time.Since(start),
		Success:        true,
	})
	return resp, nil
}

func (s *proofAnalysisService) validate(ctx context.Context, req AnalysisRequest) (*plan, error) {
	mode, ok := models.ParseMode(string(req.Mode))
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown analysis mode %q", req.Mode), nil)
	}

	switch mode {
	case models.ModeSingle, models.ModeCompare:
		if len(req.Images) != 1 {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("%s mode requires exactly one image, got %d", mode, len(req.Images)), nil)
		}
	case models.ModeBatch:
		if len(req.Images) == 0 {
			return nil, apperrors.NewValidationError("batch mode requires at least one image", nil)
		}
	}

	var sortBy ranking.Metric
	if strings.TrimSpace(req.SortBy) != "" {
		m, err := ranking.ParseMetric(req.SortBy)
		if err != nil {
			return nil, err
		}
		sortBy = m
	}

	settings, err := s.validator.Normalize(req.Settings)
	if err != nil {
		return nil, err
	}

	available, err := s.registry.List(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list profiles", err)
	}

	selected := profile.Resolve(req.ProfileSelectors, available)
	if len(selected) == 0 {
		return nil, noProfileError(req.ProfileSelectors, available)
	}

	if req.InputProfile == nil && settings.InputProfilePath != "" {
		matches := profile.Resolve([]string{settings.InputProfilePath}, available)
		if len(matches) == 0 {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("input profile %q is not a known profile", settings.InputProfilePath), nil)
		}
		settings.InputProfilePath = matches[0].Path
	}

	return &plan{
		id:       uuid.NewString(),
		mode:     mode,
		settings: settings,
		profiles: selected,
		sortBy:   sortBy,
	}, nil
}

func noProfileError(selectors []string, available []models.ProfileEntry) error {
	if len(selectors) == 0 {
		return apperrors.NewValidationError("at least one output profile must be selected", nil)
	}
	err := apperrors.NewValidationError("no valid output profiles selected", nil)
	for _, sel := range selectors {
		if guess, ok := profile.Suggest(sel, available); ok {
			return err.WithDetails(fmt.Sprintf("did you mean %q?", guess))
		}
	}
	return err
}

func (s *proofAnalysisService) run(ctx context.Context, p *plan, req AnalysisRequest) (*AnalysisResponse, error) {
	area, err := s.stager.NewArea(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := area.Release(); err != nil {
			logger.WithError(err).WithField("request_id", p.id).Warn("Staging cleanup incomplete")
		}
	}()

	settings := p.settings
	if req.InputProfile != nil {
		path, err := stageUpload(*req.InputProfile, area.Stage)
		if err != nil {
			return nil, err
		}
		settings.InputProfilePath = path
	}

	if p.mode == models.ModeBatch {
		return s.runBatch(ctx, p, settings, area, req.Images), nil
	}

	imagePath, err := stageUpload(req.Images[0], area.StageImage)
	if err != nil {
		return nil, err
	}

	units := []unit{{image: 0, profile: p.profiles[0]}}
	if p.mode == models.ModeCompare {
		units = units[:0]
		for _, prof := range p.profiles {
			units = append(units, unit{image: 0, profile: prof})
		}
	}

	results, err := s.runAll(ctx, p, settings, units, []string{imagePath}, req.Images)
	if err != nil {
		return nil, err
	}

	if p.mode == models.ModeSingle {
		return &AnalysisResponse{Mode: p.mode, Result: &results[0]}, nil
	}
	if p.sortBy != "" {
		results = ranking.Sort(results, p.sortBy)
	}
	return &AnalysisResponse{Mode: p.mode, Results: results}, nil
}

// runAll executes units with bounded concurrency. The first failure cancels
// the remaining units and is returned; no partial results are produced.
func (s *proofAnalysisService) runAll(ctx context.Context, p *plan, settings models.AnalysisSettings, units []unit, paths []string, uploads []Upload) ([]models.AnalysisResult, error) {
	results := make([]models.AnalysisResult, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, u := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := s.runUnit(gctx, p, settings, u, paths[u.image], uploads[u.image].Filename)
			if err != nil {
				return err
			}
			results[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runBatch analyzes every image against the first profile. Failures, including
// staging failures, are recorded on the entry and never abort the batch.
func (s *proofAnalysisService) runBatch(ctx context.Context, p *plan, settings models.AnalysisSettings, area *staging.Area, images []Upload) *AnalysisResponse {
	entries := make([]models.BatchEntry, len(images))
	target := p.profiles[0]

	var g errgroup.Group
	g.SetLimit(s.limit)
	for i, img := range images {
		entries[i].File = img.Filename
		g.Go(func() error {
			path, err := stageUpload(img, area.StageImage)
			if err == nil {
				var r *models.AnalysisResult
				r, err = s.runUnit(ctx, p, settings, unit{image: i, profile: target}, path, img.Filename)
				if err == nil {
					entries[i].Result = r
					return nil
				}
			} else {
				s.publishUnitFailure(ctx, p, img.Filename, target.Name, 0, err)
			}
			entries[i].Error = err.Error()
			return nil
		})
	}
	g.Wait()

	return &AnalysisResponse{Mode: p.mode, Batch: entries}
}

func (s *proofAnalysisService) runUnit(ctx context.Context, p *plan, settings models.AnalysisSettings, u unit, imagePath, file string) (*models.AnalysisResult, error) {
	settings.OutputProfilePath = u.profile.Path

	start := time.Now()
	result, err := s.analyze(ctx, imagePath, settings, u.profile)
	if err == nil && result == nil {
		err = apperrors.NewEngineProtocolError("engine returned no result", nil)
	}
	if err != nil {
		s.publishUnitFailure(ctx, p, file, u.profile.Name, time.Since(start), err)
		return nil, err
	}

	if result.Profile.Path == "" {
		result.Profile = u.profile
	}
	result.Settings = settings
	if result.Stats.RankScore == 0 {
		ranking.Apply(result, settings.RankWeights)
	}

	s.publish(ctx, observer.AnalysisEvent{
		EventType:      observer.UnitCompleted,
		RequestID:      p.id,
		Mode:           string(p.mode),
		File:           file,
		Profile:        u.profile.Name,
		ProcessingTime: time.Since(start),
		Success:        true,
		Metadata:       map[string]interface{}{"rank_score": result.Stats.RankScore},
	})
	return result, nil
}

// analyze calls the engine. A panic becomes an internal error for this unit.
func (s *proofAnalysisService) analyze(ctx context.Context, imagePath string, settings models.AnalysisSettings, prof models.ProfileEntry) (result *models.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"profile": prof.Name,
				"panic":   r,
				"stack":   string(debug.Stack()),
			}).Error("Engine panicked")
			result, err = nil, apperrors.NewInternalError(fmt.Sprintf("engine panicked: %v", r), nil)
		}
	}()
	return s.engine.Analyze(ctx, imagePath, settings, prof)
}

func (s *proofAnalysisService) publishUnitFailure(ctx context.Context, p *plan, file, profileName string, elapsed time.Duration, err error) {
	s.publish(ctx, observer.AnalysisEvent{
		EventType:      observer.UnitFailed,
		RequestID:      p.id,
		Mode:           string(p.mode),
		File:           file,
		Profile:        profileName,
		ProcessingTime: elapsed,
		ErrorMessage:   err.Error(),
	})
}

func stageUpload(u Upload, stage func(string, io.Reader) (string, error)) (string, error) {
	if u.Open == nil {
		return "", apperrors.NewStagingError(fmt.Sprintf("upload %s cannot be opened", u.Filename), nil)
	}
	rc, err := u.Open()
	if err != nil {
		return "", apperrors.NewStagingError(fmt.Sprintf("failed to open upload %s", u.Filename), err)
	}
	defer rc.Close()
	return stage(u.Filename, rc)
}

func (s *proofAnalysisService) publish(ctx context.Context, event observer.AnalysisEvent) {
	s.events.NotifyObservers(ctx, event)
}

// ListProfiles returns the current registry listing
func (s *proofAnalysisService) ListProfiles(ctx context.Context) ([]models.ProfileEntry, error) {
	entries, err := s.registry.List(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list profiles", err)
	}
	return entries, nil
}

// UploadProfile stores a user profile and returns its freshly parsed entry
func (s *proofAnalysisService) UploadProfile(ctx context.Context, name string, data []byte) (models.ProfileEntry, error) {
	path, err := s.registry.Upload(ctx, name, data)
	if err != nil {
		return models.ProfileEntry{}, err
	}
	entry, err := s.registry.Lookup(ctx, path)
	if err != nil {
		return models.ProfileEntry{}, err
	}

	s.publish(ctx, observer.AnalysisEvent{
		EventType: observer.ProfileUploaded,
		RequestID: uuid.NewString(),
		Profile:   entry.Name,
		Success:   true,
		Metadata: map[string]interface{}{
			"color_space": entry.ColorSpace,
			"bytes":       len(data),
		},
	})
	return entry, nil
}
