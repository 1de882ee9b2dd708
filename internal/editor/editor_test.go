package editor_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"quill/internal/draft"
	"quill/internal/editor"
	"quill/internal/metrics"
	"quill/internal/services"
	"quill/internal/services/llm"
	"quill/internal/testsupport"
)

const original = "Вступление.\n\n## Первый\n\nТекст.\n\n![MEME: кот](placeholder)\n\n## Второй\n\nЕщё текст.\n\n![MEME: собака](placeholder)\n"

func TestEditRunsPassesInOrder(t *testing.T) {
	gen := &testsupport.ScriptedGenerator{Respond: func(call testsupport.GeneratorCall) (string, error) {
		return bodyOf(call.Prompt), nil
	}}
	profile := llm.Profile{Name: "fast", Model: "m"}
	chain := editor.New(gen, profile, testsupport.MustCatalog(t))

	result, err := chain.Edit(context.Background(), original)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	calls := gen.Calls()
	if len(calls) != len(editor.DefaultPasses) {
		t.Fatalf("expected %d calls, got %d", len(editor.DefaultPasses), len(calls))
	}
	markers := []string{"structural editor", "coherence editor", "line editor", "fact checker"}
	for i, marker := range markers {
		if !strings.Contains(calls[i].Prompt, marker) {
			t.Fatalf("call %d is not the %q pass", i, marker)
		}
		if calls[i].Profile != profile {
			t.Fatalf("call %d used profile %+v", i, calls[i].Profile)
		}
	}
	if result.Preservation.Lost != 0 {
		t.Fatalf("expected nothing lost, got %+v", result.Preservation)
	}
	if result.Body != strings.TrimSpace(original) {
		t.Fatalf("unexpected body %q", result.Body)
	}
	if len(result.Passes) != 4 || result.Passes[3].Kind != "factcheck" || result.Passes[3].Placeholders != 2 {
		t.Fatalf("unexpected reports %+v", result.Passes)
	}
}

func TestEditReinsertsLostPlaceholders(t *testing.T) {
	m := metrics.New()
	gen := &testsupport.ScriptedGenerator{Respond: func(call testsupport.GeneratorCall) (string, error) {
		// The style pass drops every placeholder; later passes keep what they get.
		body := bodyOf(call.Prompt)
		if strings.Contains(call.Prompt, "line editor") {
			return draft.StripPlaceholders(body), nil
		}
		return body, nil
	}}
	chain := editor.New(gen, llm.Profile{}, testsupport.MustCatalog(t), editor.WithMetrics(m))

	result, err := chain.Edit(context.Background(), original)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	p := result.Preservation
	if p.Expected != 2 || p.Lost != 2 || p.Reinserted != 2 || p.Dropped() != 0 {
		t.Fatalf("unexpected preservation %+v", p)
	}
	want := []string{"![MEME: кот](placeholder)", "![MEME: собака](placeholder)"}
	got := draft.Tokens(result.Body)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("tokens = %q", got)
	}
	if !strings.Contains(result.Body, "## Первый\n\n"+want[0]) || !strings.Contains(result.Body, "## Второй\n\n"+want[1]) {
		t.Fatalf("tokens not placed after headings:\n%s", result.Body)
	}
}

func TestEditPassFailureAborts(t *testing.T) {
	gen := testsupport.NewScriptedGenerator(original).QueueError(errors.New("rate limited"))
	chain := editor.New(gen, llm.Profile{}, testsupport.MustCatalog(t))

	result, err := chain.Edit(context.Background(), original)
	if err == nil || !strings.Contains(err.Error(), "coherence") {
		t.Fatalf("expected coherence pass error, got %v", err)
	}
	if len(result.Passes) != 1 {
		t.Fatalf("expected one completed pass, got %d", len(result.Passes))
	}
	if len(gen.Calls()) != 2 {
		t.Fatalf("chain should stop after the failing pass, got %d calls", len(gen.Calls()))
	}
}

func TestEditEmptyOutputIsMalformed(t *testing.T) {
	gen := testsupport.NewScriptedGenerator("   ")
	chain := editor.New(gen, llm.Profile{}, testsupport.MustCatalog(t), editor.WithPasses(editor.DefaultPasses[0]))

	if _, err := chain.Edit(context.Background(), original); !errors.Is(err, services.ErrMalformedOutput) {
		t.Fatalf("expected malformed output, got %v", err)
	}
}

func bodyOf(prompt string) string {
	const start, end = "--- ARTICLE ---\n", "\n--- END OF ARTICLE ---"
	i := strings.Index(prompt, start)
	j := strings.Index(prompt, end)
	if i < 0 || j < i {
		return ""
	}
	return prompt[i+len(start) : j]
}
