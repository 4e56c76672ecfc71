package profile

import (
	"strings"

	"github.com/arbovm/levenshtein"

	"github.com/anime-shed/proof-inspector-go/pkg/models"
)

// Resolve returns the entries of available matched by any selector.
// A selector matches an entry's path or its display name. The result keeps
// the order of available, not of selectors.
func Resolve(selectors []string, available []models.ProfileEntry) []models.ProfileEntry {
	set := make(map[string]struct{}, len(selectors))
	for _, s := range selectors {
		set[s] = struct{}{}
	}

	resolved := make([]models.ProfileEntry, 0, len(selectors))
	for _, p := range available {
		_, byPath := set[p.Path]
		_, byName := set[p.Name]
		if byPath || byName {
			resolved = append(resolved, p)
		}
	}
	return resolved
}

// Suggest returns the display name closest to selector, if one is close enough
// to be a plausible typo.
func Suggest(selector string, available []models.ProfileEntry) (string, bool) {
	needle := strings.ToLower(baseName(selector))
	if needle == "" {
		return "", false
	}

	best, bestDist := "", -1
	for _, p := range available {
		d := levenshtein.Distance(needle, strings.ToLower(p.Name))
		if bestDist < 0 || d < bestDist {
			best, bestDist = p.Name, d
		}
	}

	if bestDist < 0 || bestDist > maxSuggestDistance(needle) {
		return "", false
	}
	return best, true
}

func maxSuggestDistance(s string) int {
	if n := len(s) / 3; n > 2 {
		return n
	}
	return 2
}

func baseName(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\\", "/"))
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}
