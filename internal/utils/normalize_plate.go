package utils

import (
	"regexp"
	"strings"
)

var platePattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{1,2}[A-Z]{1,3}[0-9]{4}$`)

// NormalizePlate оставляет только латинские буквы и цифры в верхнем регистре
func NormalizePlate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValidPlate expects an already normalized plate, e.g. MH04AB1234.
func IsValidPlate(plate string) bool {
	return platePattern.MatchString(plate)
}
