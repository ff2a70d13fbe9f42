package utils

import "strings"

// SplitList splits a comma-separated value into trimmed, non-empty items.
// It returns nil when nothing is left.
func SplitList(s string) []string {
	items := strings.FieldsFunc(s, func(r rune) bool { return r == ',' })
	out := items[:0]
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
