package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/proof-inspector-go/internal/errors"
	"github.com/anime-shed/proof-inspector-go/internal/logger"
	"github.com/anime-shed/proof-inspector-go/internal/storage"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
)

// UserDirName is the subdirectory of the base directory that receives uploads
const UserDirName = "user"

// Registry discovers color profiles on disk and accepts uploads.
// Metadata is derived from the current file bytes on every call.
type Registry interface {
	List(ctx context.Context) ([]models.ProfileEntry, error)
	Upload(ctx context.Context, name string, data []byte) (string, error)
	Lookup(ctx context.Context, path string) (models.ProfileEntry, error)
}

type fsRegistry struct {
	baseDir string
	mirror  storage.ProfileMirror
}

// Option configures a Registry
type Option func(*fsRegistry)

// WithMirror copies successful uploads to the given mirror
func WithMirror(m storage.ProfileMirror) Option {
	return func(r *fsRegistry) {
		if m != nil {
			r.mirror = m
		}
	}
}

// NewRegistry creates a registry rooted at baseDir.
// Neither baseDir nor its user subdirectory needs to exist.
func NewRegistry(baseDir string, opts ...Option) Registry {
	r := &fsRegistry{
		baseDir: baseDir,
		mirror:  storage.NopMirror{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *fsRegistry) userDir() string {
	return filepath.Join(r.baseDir, UserDirName)
}

// List scans the base directory and then the user directory, non-recursively
func (r *fsRegistry) List(ctx context.Context) ([]models.ProfileEntry, error) {
	entries := make([]models.ProfileEntry, 0)

	for _, dir := range []struct {
		path string
		user bool
	}{
		{r.baseDir, false},
		{r.userDir(), true},
	} {
		scanned, err := r.scanDir(ctx, dir.path, dir.user)
		if err != nil {
			return nil, err
		}
		entries = append(entries, scanned...)
	}
	return entries, nil
}

func (r *fsRegistry) scanDir(ctx context.Context, dir string, userProvided bool) ([]models.ProfileEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).WithField("dir", dir).Warn("Profile directory unreadable, skipping")
		}
		return nil, nil
	}

	var entries []models.ProfileEntry
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if de.IsDir() || !HasProfileExt(de.Name()) {
			continue
		}

		full := filepath.Join(dir, de.Name())
		entry, err := readEntry(full)
		if err != nil {
			logger.WithError(err).WithField("path", full).Warn("Profile unreadable, skipping")
			continue
		}
		entry.UserProvided = userProvided
		entries = append(entries, entry)
	}
	return entries, nil
}

func readEntry(path string) (models.ProfileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ProfileEntry{}, err
	}
	return entryFromBytes(path, data), nil
}

func entryFromBytes(path string, data []byte) models.ProfileEntry {
	h := ParseHeader(data)
	entry := models.ProfileEntry{
		Name:        filepath.Base(path),
		Path:        path,
		Description: h.Description,
		DeviceClass: h.DeviceClass,
		ColorSpace:  h.ColorSpace,
		Channels:    models.ChannelsFor(h.ColorSpace),
		Valid:       h.Valid,
	}
	if h.Valid {
		entry.Version = h.Version
	}
	return entry
}

// Upload stores data in the user directory under the sanitized base name.
// An existing file with the same name is replaced.
func (r *fsRegistry) Upload(ctx context.Context, name string, data []byte) (string, error) {
	fileName, err := sanitizeProfileName(name)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", apperrors.NewValidationError("profile file is empty", nil)
	}

	dir := r.userDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.NewInternalError("failed to create profile directory", err)
	}

	target := filepath.Join(dir, fileName)
	if err := writeReplace(dir, target, data); err != nil {
		return "", apperrors.NewInternalError("failed to store profile", err)
	}

	logger.WithFields(logrus.Fields{
		"path":  target,
		"bytes": len(data),
	}).Info("Profile uploaded")

	if err := r.mirror.MirrorProfile(ctx, fileName, data); err != nil {
		logger.WithError(err).WithField("path", target).Warn("Profile mirror failed")
	}
	return target, nil
}

// writeReplace writes through a temporary file so readers never observe partial bytes
func writeReplace(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

// Lookup rescans the registry and returns the entry stored at path
func (r *fsRegistry) Lookup(ctx context.Context, path string) (models.ProfileEntry, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return models.ProfileEntry{}, err
	}
	for _, e := range entries {
		if e.Path == path {
			return e, nil
		}
	}
	return models.ProfileEntry{}, apperrors.NewNotFoundError(fmt.Sprintf("profile %s not found", filepath.Base(path)), nil)
}

// HasProfileExt reports whether name ends in .icc or .icm, ignoring case
func HasProfileExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".icc", ".icm":
		return true
	}
	return false
}

var invalidNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

func sanitizeProfileName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	base = strings.TrimSpace(invalidNameChars.ReplaceAllString(base, "_"))
	if base == "" || base == "." || base == ".." || strings.HasPrefix(base, ".") {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid profile file name %q", name), nil)
	}
	if !HasProfileExt(base) {
		return "", apperrors.NewValidationError(
			fmt.Sprintf("profile file name %q must end in .icc or .icm", base), nil)
	}
	return base, nil
}
