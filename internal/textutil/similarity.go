package textutil

import (
	"math"
	"strings"
	"unicode"
)

// Fingerprint is a bag-of-words vector used to spot near-duplicate titles.
type Fingerprint struct {
	counts map[string]float64
	norm   float64
}

// NewFingerprint returns nil when text has no usable tokens.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	f := &Fingerprint{counts: make(map[string]float64, len(tokens))}
	for _, tok := range tokens {
		f.counts[tok]++
	}
	var sum float64
	for _, c := range f.counts {
		sum += c * c
	}
	f.norm = math.Sqrt(sum)
	return f
}

// Tokenize lowercases text and keeps letter/digit runs of three or more
// runes, so short prepositions drop out in both Russian and English.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kept := words[:0]
	for _, w := range words {
		if RuneLen(w) >= 3 {
			kept = append(kept, w)
		}
	}
	return kept
}

// TokenCount is the number of distinct tokens.
func (f *Fingerprint) TokenCount() int {
	if f == nil {
		return 0
	}
	return len(f.counts)
}

// CosineSimilarity is 0 for nil or empty fingerprints and 1 for identical
// token distributions.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	if len(b.counts) < len(a.counts) {
		a, b = b, a
	}
	var dot float64
	for tok, c := range a.counts {
		dot += c * b.counts[tok]
	}
	return dot / (a.norm * b.norm)
}
