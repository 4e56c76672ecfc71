package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anime-shed/proof-inspector-go/pkg/models"
	"github.com/anime-shed/proof-inspector-go/pkg/validation"
)

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File is the YAML configuration file layout. Every field is optional.
type File struct {
	Server struct {
		Host               string        `yaml:"host"`
		Port               string        `yaml:"port"`
		RequestTimeout     time.Duration `yaml:"request_timeout"`
		MaxRequestBodySize int64         `yaml:"max_request_body_size"`
	} `yaml:"server"`

	Profiles struct {
		Dir string `yaml:"dir"`
	} `yaml:"profiles"`

	Staging struct {
		Root           string `yaml:"root"`
		PreviewMaxEdge int    `yaml:"preview_max_edge"`
	} `yaml:"staging"`

	Engine struct {
		Script         string        `yaml:"script"`
		Python         string        `yaml:"python"`
		WorkDir        string        `yaml:"workdir"`
		Timeout        time.Duration `yaml:"timeout"`
		MaxConcurrency int           `yaml:"max_concurrency"`
	} `yaml:"engine"`

	Mirror struct {
		Account   string `yaml:"account"`
		Key       string `yaml:"key"`
		Container string `yaml:"container"`
	} `yaml:"mirror"`

	Defaults FileDefaults `yaml:"defaults"`
}

// FileDefaults overrides the built-in analysis defaults
type FileDefaults struct {
	RenderingIntent        string      `yaml:"rendering_intent"`
	BlackPointCompensation *bool       `yaml:"black_point_compensation"`
	MaxSize                *int        `yaml:"max_size"`
	DeltaEThresholds       []float64   `yaml:"delta_e_thresholds"`
	TACLimit               *float64    `yaml:"tac_limit"`
	RankWeights            *rankWeight `yaml:"rank_weights"`
}

type rankWeight struct {
	P95  *float64 `yaml:"p95"`
	Mean *float64 `yaml:"mean"`
}

// LoadConfigFile loads configuration from a YAML file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-provided config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (d FileDefaults) apply(base validation.Defaults) validation.Defaults {
	if d.RenderingIntent != "" {
		base.RenderingIntent = models.RenderingIntent(d.RenderingIntent)
	}
	if d.BlackPointCompensation != nil {
		base.BlackPointCompensation = *d.BlackPointCompensation
	}
	if d.MaxSize != nil {
		base.MaxSize = *d.MaxSize
	}
	copy(base.DeltaEThresholds[:], d.DeltaEThresholds)
	if d.TACLimit != nil {
		limit := *d.TACLimit
		base.TACLimit = &limit
	}
	if w := d.RankWeights; w != nil {
		if w.P95 != nil {
			base.RankWeights.P95 = *w.P95
		}
		if w.Mean != nil {
			base.RankWeights.Mean = *w.Mean
		}
	}
	return base
}

func (f *File) stringOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func (f *File) durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

func (f *File) int64Or(v, fallback int64) int64 {
	if v > 0 {
		return v
	}
	return fallback
}
