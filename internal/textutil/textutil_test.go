package textutil_test

import (
	"strings"
	"testing"

	"quill/internal/textutil"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Тест — Статья!!", "test-statya"},
		{"Как выбрать нейросеть в 2026 году", "kak-vybrat-neyroset-v-2026-godu"},
		{"ChatGPT vs Claude: что лучше?", "chatgpt-vs-claude-chto-luchshe"},
		{"Ёлка, щука и объём", "elka-shchuka-i-obem"},
		{"  --Hello   World--  ", "hello-world"},
		{"Съешь ещё этих мягких французских булок", "sesh-eshche-etikh-myagkikh-frantsuzskikh-bulok"},
		{"Café Über naïve", "cafe-uber-naive"},
		{"Ångström ﬁle", "angstrom-file"},
		{"Йога и кофе crème brûlée", "yoga-i-kofe-creme-brulee"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := textutil.Slugify(tc.in); got != tc.want {
			t.Errorf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSlugifyIsDeterministicAndCapped(t *testing.T) {
	title := strings.Repeat("Длинный заголовок про искусственный интеллект ", 5)
	first := textutil.Slugify(title)
	if first != textutil.Slugify(title) {
		t.Fatal("expected identical slugs for identical titles")
	}
	if len(first) > textutil.MaxSlugLength {
		t.Fatalf("slug exceeds cap: %d", len(first))
	}
	if strings.HasSuffix(first, "-") || strings.HasPrefix(first, "-") {
		t.Fatalf("slug has dangling separator: %q", first)
	}
}

func TestSlugifyCoversWholeAlphabet(t *testing.T) {
	alphabet := "абвгдеёжзийклмнопрстуфхцчшщъыьэюя"
	slug := textutil.Slugify(alphabet + strings.ToUpper(alphabet))
	for _, r := range slug {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			t.Fatalf("untransliterated rune %q in %q", r, slug)
		}
	}
	if slug == "" {
		t.Fatal("expected non-empty slug")
	}
}

func TestTruncateWithMarker(t *testing.T) {
	long := strings.Repeat("я", 70)
	got := textutil.TruncateWithMarker(long, 55, "...")
	if textutil.RuneLen(got) != 55 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation %q (%d runes)", got, textutil.RuneLen(got))
	}
	if textutil.TruncateWithMarker("short", 55, "...") != "short" {
		t.Fatal("short strings must be untouched")
	}
	if got := textutil.TruncateRunes("привет", 3); got != "при" {
		t.Fatalf("TruncateRunes = %q", got)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```markdown\n# Title\n\nBody\n```": "# Title\n\nBody",
		"```\n## Section\n```\n":            "## Section",
		"# Plain\n\n```go\ncode\n```":       "# Plain\n\n```go\ncode\n```",
		"```markdown\n# Unterminated\nBody": "```markdown\n# Unterminated\nBody",
		"  no fence  ":                      "no fence",
	}
	for in, want := range cases {
		if got := textutil.StripCodeFence(in); got != want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQuoteAndWhitespaceHelpers(t *testing.T) {
	if got := textutil.StripWrappingQuotes(` «Короткий заголовок» `); got != "Короткий заголовок" {
		t.Fatalf("StripWrappingQuotes = %q", got)
	}
	if got := textutil.StripWrappingQuotes(`"“Nested”"`); got != "Nested" {
		t.Fatalf("StripWrappingQuotes = %q", got)
	}
	if got := textutil.StripQuotes(`Say "hi" «now»`); got != "Say hi now" {
		t.Fatalf("StripQuotes = %q", got)
	}
	if got := textutil.CollapseWhitespace(" a \n\t b  c "); got != "a b c" {
		t.Fatalf("CollapseWhitespace = %q", got)
	}
}

func TestFirstParagraph(t *testing.T) {
	md := "# Title\n\n![cover](https://x/y.png)\n\nFirst **bold** paragraph with a [link](https://example.com).\n\nSecond."
	if got := textutil.FirstParagraph(md); got != "First bold paragraph with a link." {
		t.Fatalf("FirstParagraph = %q", got)
	}
	if got := textutil.FirstParagraph("## Only heading"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
