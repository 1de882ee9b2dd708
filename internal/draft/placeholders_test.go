package draft_test

import (
	"reflect"
	"strings"
	"testing"

	"quill/internal/draft"
)

var (
	cat = draft.Format("кот смотрит на ноутбук")
	dog = draft.Format("dog reading the docs")
	owl = draft.Format("owl at night")
)

func TestFindReturnsDocumentOrder(t *testing.T) {
	body := "Intro " + cat + "\n\n## A\n\n" + dog + "\n"
	found := draft.Find(body)
	if len(found) != 2 {
		t.Fatalf("expected 2 placeholders, got %d", len(found))
	}
	if found[0].Description != "кот смотрит на ноутбук" || found[1].Description != "dog reading the docs" {
		t.Fatalf("unexpected descriptions: %+v", found)
	}
	if body[found[1].Start:found[1].End] != dog {
		t.Fatalf("offsets do not cover the token: %+v", found[1])
	}
	if !draft.HasPlaceholders(body) || draft.HasPlaceholders("plain ![alt](https://x/y.png)") {
		t.Fatal("HasPlaceholders mismatch")
	}
}

func TestLostNeverReportsSurvivors(t *testing.T) {
	before := []string{cat, dog, dog, owl}
	after := "text " + dog + " more"
	lost := draft.Lost(before, after)
	if !reflect.DeepEqual(lost, []string{cat, owl}) {
		t.Fatalf("unexpected lost set %q", lost)
	}

	twice := draft.Lost([]string{owl, owl}, "nothing left")
	if len(twice) != 2 {
		t.Fatalf("expected both occurrences reported, got %q", twice)
	}
}

func TestReinsertDistributesAcrossSections(t *testing.T) {
	body := "# T\n\nIntro\n\n## One\n\nA\n\n## Two\n\nB\n\n## Three\n\nC\n"
	got, inserted := draft.Reinsert(body, []string{cat, dog})
	want := "# T\n\nIntro\n\n## One\n\n" + cat + "\n\nA\n\n## Two\n\n" + dog + "\n\nB\n\n## Three\n\nC\n"
	if inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", inserted)
	}
	if got != want {
		t.Fatalf("unexpected body:\n%s\nwant:\n%s", got, want)
	}
}

func TestReinsertLimitedByBoundaries(t *testing.T) {
	body := "Intro\n\n## Only\n\nText\n"
	got, inserted := draft.Reinsert(body, []string{cat, dog, owl})
	if inserted != 1 {
		t.Fatalf("expected 1 inserted, got %d", inserted)
	}
	if !strings.Contains(got, "## Only\n\n"+cat+"\n\nText") || strings.Contains(got, dog) {
		t.Fatalf("unexpected body:\n%s", got)
	}

	untouched, n := draft.Reinsert("no sections here", []string{cat})
	if n != 0 || untouched != "no sections here" {
		t.Fatalf("expected no change, got %q (%d)", untouched, n)
	}
}

func TestReinsertSharesBoundaryInOrder(t *testing.T) {
	body := "## A\n\nx\n\n## B\n\ny\n"
	got, inserted := draft.Reinsert(body, []string{cat, dog, owl})
	if inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", inserted)
	}
	// floor(0*2/3)=0 and floor(1*2/3)=0: both land after the first heading.
	want := "## A\n\n" + cat + "\n\n" + dog + "\n\nx\n\n## B\n\ny\n"
	if got != want {
		t.Fatalf("unexpected body:\n%q\nwant:\n%q", got, want)
	}
}

func TestSectionBoundariesSkipFencedCode(t *testing.T) {
	body := "Intro\n\n```bash\n## not a heading\n```\n\n## Real\n\ntext\n\n~~~~\n## also code\n~~~\n## still code\n~~~~\n"
	want := []int{strings.Index(body, "## Real\n") + len("## Real\n")}
	if got := draft.SectionBoundaries(body); !reflect.DeepEqual(got, want) {
		t.Fatalf("boundaries = %v, want %v", got, want)
	}

	got, inserted := draft.Reinsert(body, []string{cat})
	if inserted != 1 {
		t.Fatalf("expected 1 inserted, got %d", inserted)
	}
	if !strings.Contains(got, "```bash\n## not a heading\n```\n\n## Real\n\n"+cat+"\n\ntext") {
		t.Fatalf("token placed inside code:\n%s", got)
	}
}

func TestReinsertKeepsTokenAsOwnBlock(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"text right after heading", "## H\nPara\n", "## H\n\n" + cat + "\n\nPara\n"},
		{"heading on last line", "Intro\n\n## H", "Intro\n\n## H\n\n" + cat + "\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, inserted := draft.Reinsert(tt.body, []string{cat})
			if inserted != 1 || got != tt.want {
				t.Fatalf("Reinsert = %q (%d), want %q", got, inserted, tt.want)
			}
		})
	}
}

func TestReinsertIsIdempotentForSameInput(t *testing.T) {
	body := "## A\n\nx\n\n## B\n\ny\n\n## C\n\nz\n"
	lost := []string{cat, owl}
	first, _ := draft.Reinsert(body, lost)
	second, _ := draft.Reinsert(body, lost)
	if first != second {
		t.Fatal("reinsertion is not deterministic")
	}

	before := []string{cat, dog, owl}
	edited := "## A\n\nx " + dog + "\n\n## B\n\ny\n\n## C\n\nz\n"
	once := draft.Preserve(before, edited)
	again := draft.Preserve(before, once.Body)
	if again.Body != once.Body || again.Lost != 0 {
		t.Fatalf("second preserve changed the body: %+v", again)
	}
	if strings.Count(once.Body, dog) != 1 {
		t.Fatalf("survivor duplicated:\n%s", once.Body)
	}
}

func TestPreserveReportsDrops(t *testing.T) {
	res := draft.Preserve([]string{cat, dog}, "## Only\n\nbody\n")
	if res.Expected != 2 || res.Lost != 2 || res.Reinserted != 1 || res.Dropped() != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSubstituteReplacesAndRemoves(t *testing.T) {
	body := "A\n\n" + cat + "\n\nB\n\n" + dog + "\n\nC\n\n" + owl + "\n"
	got := draft.Substitute(body, map[int]string{0: "![кот](https://cdn/img-1.png)", 2: "![owl](https://cdn/img-3.png)"})
	want := "A\n\n![кот](https://cdn/img-1.png)\n\nB\n\nC\n\n![owl](https://cdn/img-3.png)\n"
	if got != want {
		t.Fatalf("unexpected body:\n%q\nwant:\n%q", got, want)
	}
	if draft.HasPlaceholders(draft.StripPlaceholders(body)) {
		t.Fatal("StripPlaceholders left tokens behind")
	}
}

func TestWordCountIgnoresPlaceholders(t *testing.T) {
	if got := draft.WordCount("one two " + cat + " three"); got != 3 {
		t.Fatalf("expected 3 words, got %d", got)
	}
}
