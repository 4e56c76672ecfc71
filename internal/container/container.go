package container

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/proof-inspector-go/internal/config"
	"github.com/anime-shed/proof-inspector-go/internal/engine"
	"github.com/anime-shed/proof-inspector-go/internal/logger"
	"github.com/anime-shed/proof-inspector-go/internal/observer"
	"github.com/anime-shed/proof-inspector-go/internal/profile"
	"github.com/anime-shed/proof-inspector-go/internal/service"
	"github.com/anime-shed/proof-inspector-go/internal/staging"
	"github.com/anime-shed/proof-inspector-go/internal/storage"
	"github.com/anime-shed/proof-inspector-go/internal/transport"
	"github.com/anime-shed/proof-inspector-go/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config   *config.Config
	registry profile.Registry
	engine   engine.Engine
	stager   *staging.Stager
	metrics  *observer.MetricsObserver
	service  service.ProofAnalysisService
	handler  http.Handler
}

// Option overrides a dependency, mainly for tests
type Option func(*Container)

// WithEngine replaces the process engine
func WithEngine(e engine.Engine) Option {
	return func(c *Container) {
		c.engine = e
	}
}

// NewContainer builds the dependency graph from cfg
func NewContainer(cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	c := &Container{config: cfg}
	for _, opt := range opts {
		opt(c)
	}

	mirror, err := buildMirror(cfg)
	if err != nil {
		return nil, err
	}
	c.registry = profile.NewRegistry(cfg.ProfileDir, profile.WithMirror(mirror))

	if c.engine == nil {
		c.engine = engine.NewProcessEngine(engine.ProcessConfig{
			Script:  cfg.EngineScript,
			Python:  cfg.EnginePython,
			WorkDir: cfg.EngineWorkDir,
		})
	}
	c.engine = engine.WithTimeout(c.engine, cfg.EngineTimeout)

	c.stager = staging.NewStager(cfg.StagingRoot, staging.WithMaxEdge(cfg.PreviewMaxEdge))

	c.metrics = observer.NewMetricsObserver()
	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(c.metrics)

	c.service = service.NewProofAnalysisService(
		c.registry,
		c.engine,
		c.stager,
		validation.NewSettingsValidator(cfg.Defaults),
		events,
		service.Options{MaxConcurrency: cfg.MaxConcurrency},
	)

	c.handler = transport.NewHandler(c.service, c.metrics, transport.HandlerConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})

	logger.WithFields(logrus.Fields{
		"profile_dir":     cfg.ProfileDir,
		"staging_root":    cfg.StagingRoot,
		"engine_script":   cfg.EngineScript,
		"max_concurrency": cfg.MaxConcurrency,
		"mirror":          cfg.MirrorEnabled(),
	}).Debug("Container initialized")

	return c, nil
}

func buildMirror(cfg *config.Config) (storage.ProfileMirror, error) {
	if !cfg.MirrorEnabled() {
		return storage.NopMirror{}, nil
	}
	m, err := storage.NewAzureMirror(cfg.AzureAccount, cfg.AzureKey, cfg.AzureContainer)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile mirror: %w", err)
	}
	return m, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Service returns the analysis orchestrator
func (c *Container) Service() service.ProofAnalysisService {
	return c.service
}

// Registry returns the profile registry
func (c *Container) Registry() profile.Registry {
	return c.registry
}
