package coordinator

import "strings"

// markupStripper removes HTML and markdown delimiters outright. Deleting
// the characters (rather than matching tags) keeps the result stable
// under repeated sanitization.
var markupStripper = strings.NewReplacer(
	"<", "",
	">", "",
	"*", "",
	"_", "",
	"~", "",
	"`", "",
)

// Sanitize strips markup delimiters, collapses runs of whitespace into
// single spaces, trims, and caps the result at maxLen runes. It is
// idempotent: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string, maxLen int) string {
	s = markupStripper.Replace(s)
	s = strings.Join(strings.Fields(s), " ")

	if maxLen > 0 {
		if runes := []rune(s); len(runes) > maxLen {
			s = strings.TrimRight(string(runes[:maxLen]), " ")
		}
	}

	return s
}
