package engine

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxNameLength caps generated file and folder names, in runes.
const MaxNameLength = 200

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	unsafeNameRe  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]`)
)

// SanitizeName turns an arbitrary subject or document name into a name that
// is safe on common filesystems. Applying it twice yields the same result.
func SanitizeName(raw string) string {
	clean := strings.ToValidUTF8(raw, "_")
	clean = whitespaceRun.ReplaceAllString(clean, "_")
	clean = unsafeNameRe.ReplaceAllString(clean, "_")

	if utf8.RuneCountInString(clean) > MaxNameLength {
		clean = string([]rune(clean)[:MaxNameLength])
	}
	if clean == "" {
		return "unnamed"
	}
	return clean
}
