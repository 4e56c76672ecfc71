package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/proof-inspector-go/internal/errors"
	"github.com/anime-shed/proof-inspector-go/internal/logger"
	"github.com/anime-shed/proof-inspector-go/internal/service"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
	"github.com/anime-shed/proof-inspector-go/pkg/validation"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// multipartMemory is the part of a multipart body kept in memory before spilling to disk
const multipartMemory = 32 << 20

// HandlerConfig holds the HTTP level limits
type HandlerConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

// MetricsSource exposes counters for the health endpoint
type MetricsSource interface {
	GetMetrics() map[string]interface{}
}

type handler struct {
	svc     service.ProofAnalysisService
	metrics MetricsSource
	cfg     HandlerConfig
}

// NewHandler builds the HTTP router. metrics may be nil.
func NewHandler(svc service.ProofAnalysisService, metrics MetricsSource, cfg HandlerConfig) http.Handler {
	h := &handler{svc: svc, metrics: metrics, cfg: cfg}

	r := gin.New()
	r.MaxMultipartMemory = multipartMemory
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(cfg.MaxRequestBodySize),
	)

	r.GET("/health", h.healthCheck)
	r.POST("/analyze", h.analyze)
	r.GET("/profiles", h.listProfiles)
	r.POST("/profiles", h.uploadProfile)

	return r
}

func (h *handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.cfg.RequestTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.cfg.RequestTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (h *handler) analyze(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, formError(err))
		return
	}

	req := service.AnalysisRequest{
		Mode:             models.AnalysisMode(formValue(form, "mode")),
		Settings:         validation.ParsePartialSettings(formValue(form, "settings")),
		ProfileSelectors: parseSelectors(formValue(form, "profiles")),
		SortBy:           formValue(form, "sort"),
	}
	for _, fh := range form.File[imageField(req.Mode)] {
		req.Images = append(req.Images, fromFileHeader(fh))
	}
	if files := form.File["inputProfile"]; len(files) > 0 {
		in := fromFileHeader(files[0])
		req.InputProfile = &in
	}

	logger.WithFields(logrus.Fields{
		"mode":     req.Mode,
		"images":   len(req.Images),
		"profiles": len(req.ProfileSelectors),
		"ip":       c.ClientIP(),
	}).Info("Processing analysis request")

	resp, err := h.svc.Analyze(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}

	switch resp.Mode {
	case models.ModeBatch:
		c.JSON(http.StatusOK, gin.H{"results": resp.Batch})
	case models.ModeCompare:
		c.JSON(http.StatusOK, gin.H{"results": resp.Results})
	default:
		c.JSON(http.StatusOK, gin.H{"result": resp.Result})
	}
}

func (h *handler) listProfiles(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	profiles, err := h.svc.ListProfiles(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ProfilesResponse{Profiles: profiles})
}

func (h *handler) uploadProfile(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			respondError(c, apperrors.NewValidationError("no profile file provided", nil))
			return
		}
		respondError(c, formError(err))
		return
	}

	f, err := fh.Open()
	if err != nil {
		respondError(c, apperrors.NewInternalError("failed to open uploaded profile", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		respondError(c, apperrors.NewInternalError("failed to read uploaded profile", err))
		return
	}

	entry, err := h.svc.UploadProfile(ctx, fh.Filename, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ProfileResponse{Profile: entry})
}

func (h *handler) healthCheck(c *gin.Context) {
	body := gin.H{
		"status":  "available",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.GetMetrics()
	}
	c.JSON(http.StatusOK, body)
}

func fromFileHeader(fh *multipart.FileHeader) service.Upload {
	return service.Upload{
		Filename: fh.Filename,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// imageField names the file field read for mode: images for batch, image otherwise
func imageField(mode models.AnalysisMode) string {
	if m, ok := models.ParseMode(string(mode)); ok && m == models.ModeBatch {
		return "images"
	}
	return "image"
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// parseSelectors decodes the profiles field, a JSON array of paths or names.
// Malformed input selects nothing.
func parseSelectors(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var selectors []string
	if err := json.Unmarshal([]byte(raw), &selectors); err != nil {
		return nil
	}
	return selectors
}

func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &apperrors.AppError{
			Type:       apperrors.ErrorTypeValidation,
			Message:    "request body too large",
			StatusCode: http.StatusRequestEntityTooLarge,
			Cause:      err,
		}
	}
	return apperrors.NewValidationError("invalid multipart form", err)
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  c.Request.UserAgent(),
			"ip":          c.ClientIP(),
		}).Info("Request handled")
	}
}

func determineStatusCode(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := determineStatusCode(err)
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error: err.Error(),
		Type:  string(apperrors.GetType(err)),
	})
}
