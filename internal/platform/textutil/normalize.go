package textutil

import "strings"

// NormalizeCode canonicalises user supplied reference codes, such as coupon
// codes, by trimming surrounding whitespace and upper-casing the remainder.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// FirstNonEmpty returns the first value whose trimmed form is not empty.
func FirstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
