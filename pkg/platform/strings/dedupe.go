// Package strings provides small string-slice utilities.
package strings

import "strings"

// DedupeAndTrim trims whitespace, drops empties, and removes duplicates while
// preserving first-seen order. Config parsing uses it to clean comma-split
// lists such as broker addresses.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
