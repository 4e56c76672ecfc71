package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anime-shed/proof-inspector-go/internal/engine"
	apperrors "github.com/anime-shed/proof-inspector-go/internal/errors"
	"github.com/anime-shed/proof-inspector-go/internal/observer"
	"github.com/anime-shed/proof-inspector-go/internal/profile"
	"github.com/anime-shed/proof-inspector-go/internal/service"
	"github.com/anime-shed/proof-inspector-go/internal/staging"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
	"github.com/anime-shed/proof-inspector-go/pkg/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type formFile struct {
	field, name, content string
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte(f.content))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func newTestServer(t *testing.T, eng engine.Engine, maxBody int64, profiles ...string) (http.Handler, string) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range profiles {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("icc "+name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	metrics := observer.NewMetricsObserver()
	events := observer.NewEventPublisher()
	events.Subscribe(metrics)

	svc := service.NewProofAnalysisService(
		profile.NewRegistry(dir),
		eng,
		staging.NewStager(filepath.Join(t.TempDir(), "staging")),
		validation.NewSettingsValidator(validation.DefaultDefaults()),
		events,
		service.Options{},
	)
	return NewHandler(svc, metrics, HandlerConfig{RequestTimeout: 5 * time.Second, MaxRequestBodySize: maxBody}), dir
}

func stubEngine() engine.Engine {
	return engine.Func(func(_ context.Context, imagePath string, _ models.AnalysisSettings, p models.ProfileEntry) (*models.AnalysisResult, error) {
		data, _ := os.ReadFile(imagePath)
		if strings.Contains(string(data), "corrupt") {
			return nil, apperrors.NewEngineFailureError("analysis failed", nil).WithDetails("pyvips error: not an image")
		}
		return &models.AnalysisResult{Stats: models.Stats{MeanDE: 1, P95DE: 2}}, nil
	})
}

func do(h http.Handler, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestServer(t, stubEngine(), 0)
	w := do(h, http.MethodGet, "/health", nil, "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "available" || body["version"] != Version {
		t.Errorf("Unexpected body: %v", body)
	}
	if _, ok := body["metrics"]; !ok {
		t.Error("Expected metrics in health response")
	}
}

func TestAnalyze_Single(t *testing.T) {
	h, _ := newTestServer(t, stubEngine(), 0, "a.icc")
	body, ct := multipartBody(t,
		map[string]string{"profiles": `["a.icc"]`, "settings": `{"renderingIntent":"perceptual"}`},
		formFile{"image", "photo.png", "pixels"},
	)

	w := do(h, http.MethodPost, "/analyze", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Result models.AnalysisResult `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Result.Profile.Name != "a.icc" || resp.Result.Settings.RenderingIntent != models.IntentPerceptual {
		t.Errorf("Unexpected result: %+v", resp.Result)
	}
	if !strings.Contains(w.Body.String(), `"rank_score"`) || !strings.Contains(w.Body.String(), `"outputProfilePath"`) {
		t.Errorf("Expected wire field names in body: %s", w.Body.String())
	}
}

func TestAnalyze_CompareAndSort(t *testing.T) {
	eng := engine.Func(func(_ context.Context, _ string, _ models.AnalysisSettings, p models.ProfileEntry) (*models.AnalysisResult, error) {
		score := map[string]float64{"a.icc": 2, "b.icc": 1}[p.Name]
		return &models.AnalysisResult{Stats: models.Stats{RankScore: score}}, nil
	})
	h, _ := newTestServer(t, eng, 0, "a.icc", "b.icc")
	body, ct := multipartBody(t,
		map[string]string{"mode": "compare", "profiles": `["a.icc","b.icc"]`, "sort": "rank_score"},
		formFile{"image", "photo.png", "pixels"},
	)

	w := do(h, http.MethodPost, "/analyze", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Results []models.AnalysisResult `json:"results"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 2 || resp.Results[0].Profile.Name != "b.icc" {
		t.Errorf("Expected 2 results sorted by score, got %+v", resp.Results)
	}
}

func TestAnalyze_BatchPartialSuccess(t *testing.T) {
	h, _ := newTestServer(t, stubEngine(), 0, "a.icc")
	body, ct := multipartBody(t,
		map[string]string{"mode": "batch", "profiles": `["a.icc"]`},
		formFile{"images", "one.png", "fine"},
		formFile{"images", "two.png", "corrupt"},
	)

	w := do(h, http.MethodPost, "/analyze", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for partial success, got %d", w.Code)
	}
	var resp struct {
		Results []models.BatchEntry `json:"results"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(resp.Results))
	}
	if resp.Results[0].File != "one.png" || resp.Results[0].Result == nil {
		t.Errorf("Expected first entry to succeed, got %+v", resp.Results[0])
	}
	if resp.Results[1].File != "two.png" || !strings.Contains(resp.Results[1].Error, "pyvips error") {
		t.Errorf("Expected second entry to carry the engine error, got %+v", resp.Results[1])
	}
}

func TestAnalyze_SingleIgnoresStrayBatchImages(t *testing.T) {
	var calls int32
	eng := engine.Func(func(_ context.Context, imagePath string, _ models.AnalysisSettings, _ models.ProfileEntry) (*models.AnalysisResult, error) {
		atomic.AddInt32(&calls, 1)
		data, _ := os.ReadFile(imagePath)
		return &models.AnalysisResult{Stats: models.Stats{MeanDE: float64(len(data))}}, nil
	})
	h, _ := newTestServer(t, eng, 0, "a.icc")
	body, ct := multipartBody(t,
		map[string]string{"mode": "single", "profiles": `["a.icc"]`},
		formFile{"image", "photo.png", "pixels"},
		formFile{"images", "extra.png", "ignored"},
	)

	w := do(h, http.MethodPost, "/analyze", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Result models.AnalysisResult `json:"result"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Result.Stats.MeanDE != float64(len("pixels")) || calls != 1 {
		t.Errorf("Expected only the image field to be analyzed, got %+v after %d calls", resp.Result.Stats, calls)
	}
}

func TestAnalyze_ErrorStatuses(t *testing.T) {
	failing := func(err error) engine.Engine {
		return engine.Func(func(context.Context, string, models.AnalysisSettings, models.ProfileEntry) (*models.AnalysisResult, error) {
			return nil, err
		})
	}

	tests := []struct {
		name     string
		eng      engine.Engine
		fields   map[string]string
		files    []formFile
		wantCode int
		wantType string
	}{
		{
			name:     "unknown mode",
			eng:      stubEngine(),
			fields:   map[string]string{"mode": "panorama", "profiles": `["a.icc"]`},
			files:    []formFile{{"image", "a.png", "x"}},
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:     "malformed profiles selects nothing",
			eng:      stubEngine(),
			fields:   map[string]string{"profiles": `not json`},
			files:    []formFile{{"image", "a.png", "x"}},
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:     "missing image",
			eng:      stubEngine(),
			fields:   map[string]string{"profiles": `["a.icc"]`},
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:     "batch ignores the single image field",
			eng:      stubEngine(),
			fields:   map[string]string{"mode": "batch", "profiles": `["a.icc"]`},
			files:    []formFile{{"image", "a.png", "x"}},
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:     "single ignores the batch images field",
			eng:      stubEngine(),
			fields:   map[string]string{"profiles": `["a.icc"]`},
			files:    []formFile{{"images", "a.png", "x"}},
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:     "engine unavailable",
			eng:      failing(apperrors.NewEngineUnavailableError("no python interpreter found", nil)),
			fields:   map[string]string{"profiles": `["a.icc"]`},
			files:    []formFile{{"image", "a.png", "x"}},
			wantCode: http.StatusServiceUnavailable,
			wantType: "engine_unavailable",
		},
		{
			name:     "engine failure",
			eng:      failing(apperrors.NewEngineFailureError("analysis failed", nil)),
			fields:   map[string]string{"profiles": `["a.icc"]`},
			files:    []formFile{{"image", "a.png", "x"}},
			wantCode: http.StatusBadGateway,
			wantType: "engine_failure",
		},
		{
			name:     "engine protocol",
			eng:      failing(apperrors.NewEngineProtocolError("failed to parse analysis output", nil)),
			fields:   map[string]string{"profiles": `["a.icc"]`},
			files:    []formFile{{"image", "a.png", "x"}},
			wantCode: http.StatusBadGateway,
			wantType: "engine_protocol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestServer(t, tt.eng, 0, "a.icc")
			body, ct := multipartBody(t, tt.fields, tt.files...)
			w := do(h, http.MethodPost, "/analyze", body, ct)

			if w.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			var resp models.ErrorResponse
			json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.Error == "" || resp.Type != tt.wantType {
				t.Errorf("Expected %s error body, got %+v", tt.wantType, resp)
			}
		})
	}
}

func TestAnalyze_NotMultipart(t *testing.T) {
	h, _ := newTestServer(t, stubEngine(), 0, "a.icc")
	w := do(h, http.MethodPost, "/analyze", bytes.NewBufferString(`{"mode":"single"}`), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestAnalyze_BodyTooLarge(t *testing.T) {
	h, _ := newTestServer(t, stubEngine(), 1024, "a.icc")
	body, ct := multipartBody(t,
		map[string]string{"profiles": `["a.icc"]`},
		formFile{"image", "big.png", strings.Repeat("x", 4096)},
	)
	w := do(h, http.MethodPost, "/analyze", body, ct)
	if w.Code == http.StatusOK {
		t.Error("Expected oversized body to be rejected")
	}
}

func TestProfiles_ListAndUpload(t *testing.T) {
	h, dir := newTestServer(t, stubEngine(), 0, "base.icc")

	body, ct := multipartBody(t, nil, formFile{"file", "mine.icm", "profile bytes"})
	w := do(h, http.MethodPost, "/profiles", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var uploaded models.ProfileResponse
	json.Unmarshal(w.Body.Bytes(), &uploaded)
	if uploaded.Profile.Path != filepath.Join(dir, "user", "mine.icm") || !uploaded.Profile.UserProvided {
		t.Errorf("Unexpected uploaded profile: %+v", uploaded.Profile)
	}

	w = do(h, http.MethodGet, "/profiles", nil, "")
	var listed models.ProfilesResponse
	json.Unmarshal(w.Body.Bytes(), &listed)
	if len(listed.Profiles) != 2 || listed.Profiles[0].Name != "base.icc" || listed.Profiles[1].Name != "mine.icm" {
		t.Errorf("Expected base then user profile, got %+v", listed.Profiles)
	}
}

func TestProfiles_UploadRejections(t *testing.T) {
	h, _ := newTestServer(t, stubEngine(), 0)

	body, ct := multipartBody(t, map[string]string{"other": "x"})
	if w := do(h, http.MethodPost, "/profiles", body, ct); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing file, got %d", w.Code)
	}

	body, ct = multipartBody(t, nil, formFile{"file", "notes.txt", "text"})
	if w := do(h, http.MethodPost, "/profiles", body, ct); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for wrong extension, got %d", w.Code)
	}
}

func TestParseSelectors(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{`["a.icc","/p/b.icc"]`, 2},
		{``, 0},
		{`{"a":1}`, 0},
		{`[1,2]`, 0},
	}
	for _, tt := range tests {
		if got := parseSelectors(tt.raw); len(got) != tt.want {
			t.Errorf("%q: expected %d selectors, got %v", tt.raw, tt.want, got)
		}
	}
}
