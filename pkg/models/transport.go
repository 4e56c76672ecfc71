package models

import "strings"

// AnalysisMode selects the fan-out shape of an analysis request
type AnalysisMode string

const (
	ModeSingle  AnalysisMode = "single"
	ModeCompare AnalysisMode = "compare"
	ModeBatch   AnalysisMode = "batch"
)

// ParseMode converts the form value to a mode. An empty value means single.
func ParseMode(s string) (AnalysisMode, bool) {
	switch AnalysisMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSingle:
		return ModeSingle, true
	case ModeCompare:
		return ModeCompare, true
	case ModeBatch:
		return ModeBatch, true
	}
	return "", false
}

// ProfilesResponse is the body of GET /profiles
type ProfilesResponse struct {
	Profiles []ProfileEntry `json:"profiles"`
}

// ProfileResponse is the body of a successful POST /profiles
type ProfileResponse struct {
	Profile ProfileEntry `json:"profile"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func normalizeSignature(sig string) string {
	return strings.ToUpper(strings.TrimSpace(strings.TrimRight(sig, "\x00")))
}
