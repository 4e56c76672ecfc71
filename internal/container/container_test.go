package container

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/anime-shed/proof-inspector-go/internal/config"
	"github.com/anime-shed/proof-inspector-go/internal/engine"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
	"github.com/anime-shed/proof-inspector-go/pkg/validation"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Host:               "127.0.0.1",
		Port:               "0",
		MaxRequestBodySize: 1 << 20,
		ProfileDir:         filepath.Join(dir, "profiles"),
		StagingRoot:        filepath.Join(dir, "staging"),
		EngineScript:       "python/analyze.py",
		MaxConcurrency:     2,
		Defaults:           validation.DefaultDefaults(),
	}
}

func TestNewContainer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)
	os.MkdirAll(cfg.ProfileDir, 0o755)
	os.WriteFile(filepath.Join(cfg.ProfileDir, "a.icc"), []byte("icc"), 0o644)

	stub := engine.Func(func(context.Context, string, models.AnalysisSettings, models.ProfileEntry) (*models.AnalysisResult, error) {
		return &models.AnalysisResult{}, nil
	})
	c, err := NewContainer(cfg, WithEngine(stub))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.Config() != cfg || c.Service() == nil || c.Registry() == nil {
		t.Fatal("Expected container to expose its dependencies")
	}

	profiles, err := c.Service().ListProfiles(context.Background())
	if err != nil || len(profiles) != 1 {
		t.Errorf("Expected registry rooted at the profile dir, got %v (%v)", profiles, err)
	}

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from health, got %d", w.Code)
	}
}

func TestNewContainer_NilConfig(t *testing.T) {
	if _, err := NewContainer(nil); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestNewContainer_BadMirrorCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.AzureAccount = "account"
	cfg.AzureKey = "not base64!"
	cfg.AzureContainer = "profiles"

	if _, err := NewContainer(cfg); err == nil {
		t.Error("Expected invalid shared key to fail container construction")
	}
}
