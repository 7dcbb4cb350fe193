package validators

import "strings"

// SanitizeString trims surrounding whitespace and strips control
// characters before enforcing the length cap. Patient names and search
// terms pass through here before hitting the database.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	trimmed = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, trimmed)
	if maxLen > 0 && len(trimmed) > maxLen {
		return trimmed[:maxLen]
	}
	return trimmed
}
