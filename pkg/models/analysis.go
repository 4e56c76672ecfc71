package models

// RenderingIntent selects how out-of-gamut colors are mapped by the engine
type RenderingIntent string

const (
	IntentRelative   RenderingIntent = "relative"
	IntentPerceptual RenderingIntent = "perceptual"
	IntentSaturation RenderingIntent = "saturation"
	IntentAbsolute   RenderingIntent = "absolute"
)

// Valid reports whether the intent is one of the four supported values
func (i RenderingIntent) Valid() bool {
	switch i {
	case IntentRelative, IntentPerceptual, IntentSaturation, IntentAbsolute:
		return true
	}
	return false
}

// ProfileEntry identifies one color profile on disk.
// Entries are snapshots: they are rebuilt from the file bytes on every scan.
type ProfileEntry struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Description  string `json:"description,omitempty"`
	DeviceClass  string `json:"deviceClass,omitempty"`
	ColorSpace   string `json:"colorSpace,omitempty"`
	Channels     *int   `json:"channels,omitempty"`
	UserProvided bool   `json:"userProvided,omitempty"`
	// Version is the header's profile version, set only for Valid profiles
	Version string `json:"version,omitempty"`
	// Valid reports the 'acsp' signature. Invalid files are still listed.
	Valid bool `json:"valid"`
}

// RankWeights are the coefficients of the rank score. They are not normalized.
type RankWeights struct {
	P95  float64 `json:"p95"`
	Mean float64 `json:"mean"`
}

// AnalysisSettings is the effective, fully populated configuration of one analysis
type AnalysisSettings struct {
	InputProfilePath       string          `json:"inputProfilePath,omitempty"`
	OutputProfilePath      string          `json:"outputProfilePath"`
	RenderingIntent        RenderingIntent `json:"renderingIntent"`
	BlackPointCompensation bool            `json:"blackPointCompensation"`
	MaxSize                int             `json:"maxSize"`
	DeltaEThresholds       [2]float64      `json:"deltaEThresholds"`
	TACLimit               *float64        `json:"tacLimit,omitempty"`
	RankWeights            RankWeights     `json:"rankWeights"`
}

// Stats is the perceptual difference summary of one proof
type Stats struct {
	MeanDE    float64 `json:"mean_de"`
	P95DE     float64 `json:"p95_de"`
	MaxDE     float64 `json:"max_de"`
	PctDEGtT1 float64 `json:"pct_de_gt_t1"`
	PctDEGtT2 float64 `json:"pct_de_gt_t2"`
	RankScore float64 `json:"rank_score"`
}

// TAC is the total ink coverage summary. Only Supported is always present.
type TAC struct {
	Supported  bool     `json:"supported"`
	Limit      *float64 `json:"limit,omitempty"`
	PctGtLimit *float64 `json:"pct_gt_limit,omitempty"`
	P95        *float64 `json:"p95,omitempty"`
	Max        *float64 `json:"max,omitempty"`
}

// Previews holds base64-encoded PNG renderings produced by the engine
type Previews struct {
	DEHeatmapPNGBase64 string `json:"de_heatmap_png_base64,omitempty"`
	MaskPNGBase64      string `json:"mask_png_base64,omitempty"`
}

// AnalysisResult is the outcome of one (image, profile) unit of work
type AnalysisResult struct {
	Profile  ProfileEntry     `json:"profile"`
	Settings AnalysisSettings `json:"settings"`
	Stats    Stats            `json:"stats"`
	TAC      TAC              `json:"tac"`
	Previews Previews         `json:"previews"`
}

// BatchEntry wraps one file's outcome in batch mode.
// Exactly one of Result and Error is set.
type BatchEntry struct {
	File   string          `json:"file"`
	Result *AnalysisResult `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Succeeded reports whether the entry carries a result
func (b BatchEntry) Succeeded() bool {
	return b.Result != nil && b.Error == ""
}

// ChannelsFor maps a color space signature to its channel count.
// The lookup ignores case and surrounding padding; unknown spaces return nil.
func ChannelsFor(colorSpace string) *int {
	n, ok := channelCounts[normalizeSignature(colorSpace)]
	if !ok {
		return nil
	}
	return &n
}

var channelCounts = map[string]int{
	"RGB":  3,
	"GRAY": 1,
	"CMYK": 4,
	"CMY":  3,
	"LAB":  3,
}
