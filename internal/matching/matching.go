// Package matching scores the similarity of person names as reported by
// attendance devices against registry names. Devices truncate, reorder and
// strip honorifics, so a single ratio is not enough; the score combines
// several token-based ratios with a nickname heuristic tuned for Indonesian
// names ("Laras" recorded on the device for "Larasati Putri").
package matching

import (
	"strings"
	"unicode"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases a name, folds diacritics and collapses whitespace.
func Normalize(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Score rates how likely two names denote the same person, 0 to 100.
//
// The base score is the best of token-sort and partial-token-sort ratios.
// When the shorter name looks like a nickname of the longer one (at least 4
// runes and contained in one of its tokens) and the partial ratio agrees, a
// bonus proportional to the covered token is added. Very short names that
// cover less than half of the longer name are penalized so "An" cannot claim
// "Andika Pratama" on a perfect partial match.
func Score(a, b string) int {
	n1 := Normalize(a)
	n2 := Normalize(b)
	if n1 == "" || n2 == "" {
		return 0
	}

	tokenSort := fuzzy.TokenSortRatio(n1, n2)
	partial := fuzzy.PartialRatio(n1, n2)
	partialTokenSort := fuzzy.PartialTokenSortRatio(n1, n2)

	shorter, longer := n1, n2
	if len([]rune(n1)) > len([]rune(n2)) {
		shorter, longer = n2, n1
	}
	shortLen := len([]rune(shorter))
	longLen := len([]rune(longer))
	lenRatio := 0.0
	if longLen > 0 {
		lenRatio = float64(shortLen) / float64(longLen)
	}

	bonus := 0
	if shortLen >= 4 {
		for _, token := range strings.Fields(longer) {
			if strings.Contains(token, shorter) {
				bonus = int(50 * float64(shortLen) / float64(len([]rune(token))))
				break
			}
			if strings.HasPrefix(token, shorter) {
				bonus = 40
				break
			}
		}
	}

	base := tokenSort
	if partialTokenSort > base {
		base = partialTokenSort
	}

	if partial >= 80 && bonus > 0 {
		if base+bonus > 100 {
			return 100
		}
		return base + bonus
	}

	best := base
	if partial > best {
		best = partial
	}
	if shortLen < 4 && lenRatio < 0.5 {
		penalty := 1.0 - (0.5 - lenRatio)
		best = int(float64(best) * penalty)
	}
	return best
}
