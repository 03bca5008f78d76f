// ABOUTME: Text normalization shared by the compiler and the responder
// ABOUTME: Lower-cases, folds accents, strips punctuation and collapses whitespace

package script

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// isTriggerMeta reports whether r carries meaning in trigger syntax.
func isTriggerMeta(r rune) bool {
	switch r {
	case '(', ')', '[', ']', '|', '*':
		return true
	}
	return false
}

// Normalize prepares user input for matching: "¿Cómo  ESTÁS?" becomes "como estas".
func Normalize(s string) string {
	return normalize(s, nil)
}

// normalizeTrigger is Normalize but keeps the trigger metacharacters intact.
func normalizeTrigger(s string) string {
	return normalize(s, isTriggerMeta)
}

func normalize(s string, keep func(rune) bool) string {
	folded, _, err := transform.String(foldTransformer(), s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		switch {
		case keep != nil && keep(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// foldTransformer decomposes, drops combining marks and recomposes. A new
// chain is built per call because transformers carry state.
func foldTransformer() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}
