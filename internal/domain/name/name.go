// Package name canonicalizes Japanese place and intersection names so
// that differently-typed spellings of the same name compare equal.
package name

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"
)

// IntersectionSuffix is the literal suffix marking an intersection name.
const IntersectionSuffix = "交差点"

// citySuffixes are the administrative suffixes (city/ward/town/village)
// that terminate a city-hint token.
const citySuffixes = "市区町村"

// kanjiDigits maps the ten kanji/classical numerals to ASCII digits.
var kanjiDigits = map[rune]rune{
	'〇': '0', '零': '0', '一': '1', '二': '2', '三': '3',
	'四': '4', '五': '5', '六': '6', '七': '7', '八': '8', '九': '9',
}

const brackets = "()[]（）【】"

// Normalize returns the canonical match key for a name: width-folded,
// lower-cased, hiragana folded to katakana, kanji digits converted to
// ASCII, brackets and whitespace removed, and any trailing intersection
// suffix stripped. Normalize is idempotent.
func Normalize(s string) string {
	s = width.Fold.String(s)
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return -1
		case strings.ContainsRune(brackets, r):
			return -1
		case r >= 'ぁ' && r <= 'ゖ': // hiragana -> katakana
			return r + 0x60
		}
		if d, ok := kanjiDigits[r]; ok {
			return d
		}
		return r
	}, s)
	for strings.HasSuffix(s, IntersectionSuffix) {
		s = strings.TrimSuffix(s, IntersectionSuffix)
	}
	return s
}

// CityHint returns the last whitespace-delimited token of s that ends in
// an administrative suffix (市/区/町/村), or "" if there is none.
func CityHint(s string) string {
	hint := ""
	for _, tok := range strings.FieldsFunc(s, unicode.IsSpace) {
		last, _ := utf8.DecodeLastRuneInString(tok)
		if strings.ContainsRune(citySuffixes, last) {
			hint = tok
		}
	}
	return hint
}

// StripCityHint removes hint and any whitespace run preceding it from
// the end of s. It is a no-op when hint is empty or s does not end with
// the hint token.
func StripCityHint(s, hint string) string {
	if hint == "" {
		return s
	}
	t := strings.TrimRightFunc(s, unicode.IsSpace)
	if !strings.HasSuffix(t, hint) {
		return s
	}
	return strings.TrimRightFunc(t[:len(t)-len(hint)], unicode.IsSpace)
}

// Variants returns the deduplicated ordered list of name forms a stored
// or live record might use for bare: the input itself, its normalized
// form, and the normalized form with the intersection suffix appended.
// Empty members are dropped, so an empty bare yields no variants.
func Variants(bare string) []string {
	bare = strings.TrimSpace(bare)
	base := Normalize(bare)

	out := make([]string, 0, 3)
	seen := make(map[string]struct{}, 3)
	for _, v := range []string{bare, base, base + IntersectionSuffix} {
		if v == "" || v == IntersectionSuffix {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
