package cola

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Company is the canonical company entity kept in the remote store.
type Company struct {
	ID            int64
	CanonicalName string
	Slug          string
	TotalFilings  int
}

// Alias maps one verbatim company spelling to its canonical company.
// Stored with original case; all matching is done on the upper-cased form.
type Alias struct {
	RawName   string
	CompanyID int64
}

// BrandSlug is one row of the remote brand index.
type BrandSlug struct {
	Slug        string
	BrandName   string
	FilingCount int
}

// NormalizeCompanyName is the single normalization point for alias matching:
// trimmed and upper-cased. Callers must not fold case anywhere else.
func NormalizeCompanyName(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowers a name into the slug alphabet: ASCII lowercase
// alphanumerics with single hyphens between runs. Diacritics are stripped
// rather than dropped so "Château" slugs as "chateau".
func Slugify(name string) string {
	flat, _, err := transform.String(deaccent, name)
	if err != nil {
		flat = name
	}
	var b strings.Builder
	b.Grow(len(flat))
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(flat) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// PreferredBrandForSlug resolves a slug collision between two brand names:
// the longer name wins, ties break toward the lexicographically smaller.
func PreferredBrandForSlug(a, b string) string {
	if len(a) != len(b) {
		if len(a) > len(b) {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}
