// Package strings cleans up string lists read from env config and token claims.
package strings

import "strings"

// Normalize trims each value, applies fold when it is non-nil, drops values
// that end up empty and keeps the first occurrence of each. A nil or empty
// input is returned as is.
func Normalize(values []string, fold func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if fold != nil {
			v = fold(v)
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
