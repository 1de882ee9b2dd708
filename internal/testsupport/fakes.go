package testsupport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"quill/internal/research"
	"quill/internal/services/imagegen"
	"quill/internal/services/llm"
)

// GeneratorCall records one text generation request.
type GeneratorCall struct {
	Prompt  string
	Profile llm.Profile
}

// ScriptedGenerator is an llm.Generator for tests. Queued replies are served
// first in order; after that Respond decides, and without Respond the call
// fails.
type ScriptedGenerator struct {
	mu      sync.Mutex
	queue   []scriptedReply
	calls   []GeneratorCall
	Respond func(call GeneratorCall) (string, error)
}

type scriptedReply struct {
	text string
	err  error
}

var _ llm.Generator = (*ScriptedGenerator)(nil)

// NewScriptedGenerator queues the given replies.
func NewScriptedGenerator(replies ...string) *ScriptedGenerator {
	g := &ScriptedGenerator{}
	for _, reply := range replies {
		g.Queue(reply)
	}
	return g
}

// Queue appends a successful reply.
func (g *ScriptedGenerator) Queue(text string) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = append(g.queue, scriptedReply{text: text})
	return g
}

// QueueError appends a failing reply.
func (g *ScriptedGenerator) QueueError(err error) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = append(g.queue, scriptedReply{err: err})
	return g
}

// Generate implements llm.Generator.
func (g *ScriptedGenerator) Generate(ctx context.Context, prompt string, profile llm.Profile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	call := GeneratorCall{Prompt: prompt, Profile: profile}
	g.mu.Lock()
	g.calls = append(g.calls, call)
	if len(g.queue) > 0 {
		next := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()
		return next.text, next.err
	}
	respond := g.Respond
	g.mu.Unlock()
	if respond == nil {
		return "", errors.New("scripted generator: no reply queued")
	}
	return respond(call)
}

// Calls returns a copy of the recorded calls.
func (g *ScriptedGenerator) Calls() []GeneratorCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]GeneratorCall, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallsContaining counts calls whose prompt contains substr.
func (g *ScriptedGenerator) CallsContaining(substr string) int {
	count := 0
	for _, call := range g.Calls() {
		if strings.Contains(call.Prompt, substr) {
			count++
		}
	}
	return count
}

// FakeSearcher is a research.Searcher returning fixed sources.
type FakeSearcher struct {
	mu      sync.Mutex
	Sources []research.Source
	Err     error
	queries []string
}

var _ research.Searcher = (*FakeSearcher)(nil)

// Search implements research.Searcher.
func (s *FakeSearcher) Search(_ context.Context, query string, limit int) ([]research.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.Err != nil {
		return nil, s.Err
	}
	if limit > 0 && len(s.Sources) > limit {
		return append([]research.Source(nil), s.Sources[:limit]...), nil
	}
	return append([]research.Source(nil), s.Sources...), nil
}

// Queries returns the recorded queries.
func (s *FakeSearcher) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// FakeImages is an imagegen.Generator. Calls listed in FailOn (1-based) fail.
// MIMEType defaults to image/png.
type FakeImages struct {
	mu       sync.Mutex
	FailOn   map[int]bool
	MIMEType string
	prompts  []string
}

var _ imagegen.Generator = (*FakeImages)(nil)

// GenerateImage implements imagegen.Generator.
func (f *FakeImages) GenerateImage(_ context.Context, prompt string) (imagegen.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	n := len(f.prompts)
	if f.FailOn[n] {
		return imagegen.Image{}, fmt.Errorf("fake image generation failed for call %d", n)
	}
	mime := f.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return imagegen.Image{Data: []byte(fmt.Sprintf("image-%d", n)), MIMEType: mime}, nil
}

// Prompts returns the recorded prompts.
func (f *FakeImages) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// MemoryUploader keeps uploaded objects in memory and serves them from BaseURL.
type MemoryUploader struct {
	mu      sync.Mutex
	BaseURL string
	Err     error
	objects map[string][]byte
	order   []string
}

// Upload implements objectstore.Uploader.
func (u *MemoryUploader) Upload(_ context.Context, objectPath string, data []byte, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return "", u.Err
	}
	if u.objects == nil {
		u.objects = make(map[string][]byte)
	}
	u.objects[objectPath] = append([]byte(nil), data...)
	u.order = append(u.order, objectPath)
	base := u.BaseURL
	if base == "" {
		base = "https://cdn.test"
	}
	return strings.TrimRight(base, "/") + "/" + objectPath, nil
}

// Paths returns the uploaded paths in upload order.
func (u *MemoryUploader) Paths() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.order...)
}

// Object returns the stored bytes for a path.
func (u *MemoryUploader) Object(objectPath string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, ok := u.objects[objectPath]
	return data, ok
}

// RecordingChannel captures announcement messages.
type RecordingChannel struct {
	mu       sync.Mutex
	Err      error
	messages []string
}

// Send records text, or fails with Err.
func (c *RecordingChannel) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.messages = append(c.messages, text)
	return nil
}

// Messages returns the recorded messages.
func (c *RecordingChannel) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}
