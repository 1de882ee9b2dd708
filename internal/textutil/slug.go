package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLength caps generated slugs.
const MaxSlugLength = 80

var cyrillic = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
	// Ukrainian and Belarusian letters that show up in quoted sources.
	'і': "i", 'ї': "yi", 'є': "ye", 'ґ': "g", 'ў': "u",
}

var (
	nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)
	lowerCaser = cases.Lower(language.Und)
)

// Slugify derives a deterministic URL-safe slug: lowercase, Cyrillic
// transliterated to Latin, accents folded off Latin letters, every run of other
// characters collapsed to a single hyphen, hyphens trimmed from both ends,
// capped at MaxSlugLength. The result may be empty when the input has no
// letters or digits.
func Slugify(text string) string {
	lowered := lowerCaser.String(norm.NFC.String(text))

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if latin, ok := cyrillic[r]; ok {
			b.WriteString(latin)
			continue
		}
		b.WriteRune(r)
	}

	slug := nonSlugRun.ReplaceAllString(foldAccents(b.String()), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	return slug
}

// foldAccents decomposes text with NFKD and drops the combining marks, so
// "café" becomes "cafe". Cyrillic must already be transliterated: й and ё
// decompose too.
func foldAccents(text string) string {
	folder := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, text)
	if err != nil {
		return text
	}
	return folded
}
