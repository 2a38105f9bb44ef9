package attendance

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeEmployeeID folds an identifier typed on a kiosk or scanned from a
// badge to its canonical form: NFKC (full-width digits become ASCII), control
// and format characters removed, surrounding space trimmed.
func NormalizeEmployeeID(id string) string {
	t := transform.Chain(
		norm.NFKC,
		runes.Remove(runes.In(unicode.Cc)),
		runes.Remove(runes.In(unicode.Cf)),
	)
	out, _, err := transform.String(t, id)
	if err != nil {
		out = id
	}
	return strings.TrimSpace(out)
}
