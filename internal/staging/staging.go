package staging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp" // register the WebP decoder for imaging.Decode

	apperrors "github.com/anime-shed/proof-inspector-go/internal/errors"
	"github.com/anime-shed/proof-inspector-go/internal/logger"
)

// Stager hands out per-request staging areas under a fixed root
type Stager struct {
	root    string
	maxEdge int
}

// Option configures a Stager
type Option func(*Stager)

// WithMaxEdge downscales staged images whose long edge exceeds n pixels.
// Zero or negative disables downscaling.
func WithMaxEdge(n int) Option {
	return func(s *Stager) {
		s.maxEdge = n
	}
}

// NewStager creates a stager rooted at root. The root is created lazily.
func NewStager(root string, opts ...Option) *Stager {
	s := &Stager{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the staging root directory
func (s *Stager) Root() string {
	return s.root
}

// NewArea creates an empty staging area owned by a single request
func (s *Stager) NewArea(ctx context.Context) (*Area, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.root == "" {
		return nil, apperrors.NewStagingError("staging root is not configured", nil)
	}
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return nil, apperrors.NewStagingError("failed to create staging root", err)
	}

	id := uuid.NewString()
	dir := filepath.Join(s.root, id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, apperrors.NewStagingError("failed to create staging area", err)
	}

	return &Area{
		id:      id,
		dir:     dir,
		maxEdge: s.maxEdge,
	}, nil
}

// Area is a request-scoped directory of staged files.
// Release removes every staged file exactly once; it is safe to call repeatedly.
type Area struct {
	id      string
	dir     string
	maxEdge int

	mu       sync.Mutex
	paths    []string
	released bool
}

// ID identifies the area in logs
func (a *Area) ID() string {
	return a.id
}

// Dir returns the area's directory
func (a *Area) Dir() string {
	return a.dir
}

// Paths returns the files staged so far
func (a *Area) Paths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.paths))
	copy(out, a.paths)
	return out
}

// Stage copies r into the area byte for byte and returns the staged path
func (a *Area) Stage(name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", apperrors.NewStagingError(fmt.Sprintf("failed to read %s", displayName(name)), err)
	}
	return a.write(extensionFor(name, data), data)
}

// StageImage stages an image, downscaling it first when the area has a max edge
func (a *Area) StageImage(name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", apperrors.NewStagingError(fmt.Sprintf("failed to read %s", displayName(name)), err)
	}

	ext := extensionFor(name, data)
	if a.maxEdge > 0 {
		if scaled, ok := downscale(data, a.maxEdge); ok {
			logger.WithFields(logrus.Fields{
				"file":     displayName(name),
				"max_edge": a.maxEdge,
			}).Debug("Staged image downscaled")
			data, ext = scaled, ".png"
		}
	}
	return a.write(ext, data)
}

func (a *Area) write(ext string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return "", apperrors.NewStagingError("staging area already released", nil)
	}

	path := filepath.Join(a.dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", apperrors.NewStagingError("failed to write staged file", err)
	}
	a.paths = append(a.paths, path)
	return path, nil
}

// Release deletes all staged files and the area directory
func (a *Area) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil
	}
	a.released = true

	var firstErr error
	for _, p := range a.paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.WithError(err).WithField("path", p).Warn("Failed to remove staged file")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.paths = nil

	if err := os.Remove(a.dir); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).WithField("dir", a.dir).Warn("Failed to remove staging area")
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// extensionFor keeps the original extension so the engine can pick a decoder,
// falling back to the sniffed content type.
func extensionFor(name string, data []byte) string {
	if ext := strings.ToLower(filepath.Ext(name)); safeExt.MatchString(ext) {
		return ext
	}
	return mimetype.Detect(data).Extension()
}

func downscale(data []byte, maxEdge int) ([]byte, bool) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false
	}
	b := img.Bounds()
	if b.Dx() <= maxEdge && b.Dy() <= maxEdge {
		return nil, false
	}

	fitted := imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.PNG); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func displayName(name string) string {
	if name == "" {
		return "upload"
	}
	return filepath.Base(name)
}
