package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/anime-shed/proof-inspector-go/pkg/validation"
)

// AppName names the XDG subdirectories owned by the service
const AppName = "proof-inspector"

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64

	// ProfileDir holds the shipped profiles; uploads land in ProfileDir/user.
	ProfileDir string
	// StagingRoot is the parent of every per-request staging directory.
	StagingRoot string

	EngineScript  string
	EnginePython  string
	EngineWorkDir string
	// EngineTimeout bounds one engine invocation. Zero disables the deadline.
	EngineTimeout time.Duration

	MaxConcurrency int
	// PreviewMaxEdge downsizes staged images before analysis. Zero disables it.
	PreviewMaxEdge int

	AzureAccount   string
	AzureKey       string
	AzureContainer string

	// Defaults are applied field by field to partial request settings.
	Defaults validation.Defaults
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// MirrorEnabled reports whether uploaded profiles are copied to blob storage
func (c *Config) MirrorEnabled() bool {
	return c.AzureAccount != "" && c.AzureKey != "" && c.AzureContainer != ""
}

// DefaultStagingRoot returns the XDG cache location used when STAGING_ROOT is unset
func DefaultStagingRoot() string {
	return filepath.Join(xdg.CacheHome, AppName, "staging")
}

// LoadFromEnv builds the configuration from CONFIG_FILE (if any) and the environment.
// Environment variables take precedence over the file.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

// Load builds the configuration from the YAML file at path, which may be empty,
// overlaid with the environment.
func Load(path string) (*Config, error) {
	file := &File{}
	if path = strings.TrimSpace(path); path != "" {
		loaded, err := LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		file = loaded
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	cfg := &Config{
		Host:               getEnvOrDefault("HOST", file.stringOr(file.Server.Host, "0.0.0.0")),
		Port:               getEnvOrDefault("PORT", file.stringOr(file.Server.Port, "8080")),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", file.durationOr(file.Server.RequestTimeout, 120*time.Second)),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", file.int64Or(file.Server.MaxRequestBodySize, 64*1024*1024)), // 64MB
		ProfileDir:         getEnvOrDefault("PROFILE_DIR", file.stringOr(file.Profiles.Dir, filepath.Join(wd, "profiles"))),
		StagingRoot:        getEnvOrDefault("STAGING_ROOT", file.stringOr(file.Staging.Root, DefaultStagingRoot())),
		EngineScript:       getEnvOrDefault("ENGINE_SCRIPT", file.stringOr(file.Engine.Script, filepath.Join("python", "analyze.py"))),
		EnginePython:       getEnvOrDefault("ENGINE_PYTHON", file.Engine.Python),
		EngineWorkDir:      getEnvOrDefault("ENGINE_WORKDIR", file.stringOr(file.Engine.WorkDir, wd)),
		EngineTimeout:      parseDurationOrDefault("ENGINE_TIMEOUT", file.durationOr(file.Engine.Timeout, 0)),
		MaxConcurrency:     int(parseIntOrDefault("MAX_CONCURRENCY", file.int64Or(int64(file.Engine.MaxConcurrency), 2))),
		PreviewMaxEdge:     int(parseIntOrDefault("PREVIEW_MAX_EDGE", file.int64Or(int64(file.Staging.PreviewMaxEdge), 0))),
		AzureAccount:       getEnvOrDefault("AZURE_STORAGE_ACCOUNT", file.Mirror.Account),
		AzureKey:           getEnvOrDefault("AZURE_STORAGE_KEY", file.Mirror.Key),
		AzureContainer:     getEnvOrDefault("AZURE_PROFILE_CONTAINER", file.Mirror.Container),
		Defaults:           file.Defaults.apply(validation.DefaultDefaults()),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values and reports the first problem found
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0 (got %s)", c.RequestTimeout)
	}
	if c.EngineTimeout < 0 {
		return fmt.Errorf("ENGINE_TIMEOUT must be >= 0 (got %s)", c.EngineTimeout)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("MAX_CONCURRENCY must be >= 1 (got %d)", c.MaxConcurrency)
	}
	if c.PreviewMaxEdge < 0 {
		return fmt.Errorf("PREVIEW_MAX_EDGE must be >= 0 (got %d)", c.PreviewMaxEdge)
	}
	if strings.TrimSpace(c.ProfileDir) == "" || strings.TrimSpace(c.StagingRoot) == "" {
		return errors.New("PROFILE_DIR and STAGING_ROOT must not be empty")
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("invalid analysis defaults: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration >= 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
