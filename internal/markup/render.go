// Package markup renders article markdown to sanitized HTML with stable
// heading anchors.
package markup

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"

	"quill/internal/textutil"
)

const (
	extensions = blackfriday.CommonExtensions | blackfriday.Footnotes
	htmlFlags  = blackfriday.CommonHTMLFlags | blackfriday.FootnoteReturnLinks
)

var headingIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Heading describes one rendered heading and the anchor assigned to it.
type Heading struct {
	Level int
	Text  string
	ID    string
}

// Document is the rendered form of an article body.
type Document struct {
	HTML     string
	Headings []Heading
}

// Renderer converts markdown to display HTML. It is safe for concurrent use.
type Renderer struct {
	policy *bluemonday.Policy
}

// NewRenderer builds a renderer with the blog's sanitization policy: user
// generated content rules, heading ids kept, nofollow on links, and external
// links opened in a new tab.
func NewRenderer() *Renderer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("id").Matching(headingIDPattern).OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return &Renderer{policy: policy}
}

// Render parses markdown, assigns every heading a slug id (suffixing repeats
// with -1, -2, ...), renders HTML, and sanitizes the result.
func (r *Renderer) Render(markdown string) Document {
	parser := blackfriday.New(blackfriday.WithExtensions(extensions))
	ast := parser.Parse([]byte(normalizeNewlines(markdown)))

	headings := assignHeadingIDs(ast)

	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{Flags: htmlFlags})
	var buf bytes.Buffer
	renderer.RenderHeader(&buf, ast)
	ast.Walk(func(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		return renderer.RenderNode(&buf, node, entering)
	})
	renderer.RenderFooter(&buf, ast)

	return Document{
		HTML:     strings.TrimSpace(r.policy.Sanitize(buf.String())),
		Headings: headings,
	}
}

func assignHeadingIDs(ast *blackfriday.Node) []Heading {
	var headings []Heading
	used := make(map[string]struct{})
	ast.Walk(func(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		if !entering || node.Type != blackfriday.Heading {
			return blackfriday.GoToNext
		}
		text := plainText(node)
		id := uniqueID(HeadingID(text), used)
		node.HeadingID = id
		headings = append(headings, Heading{Level: node.Level, Text: text, ID: id})
		return blackfriday.SkipChildren
	})
	return headings
}

// HeadingID converts heading text into an anchor id; empty text becomes "section".
func HeadingID(text string) string {
	id := textutil.Slugify(text)
	if id == "" {
		return "section"
	}
	return id
}

func uniqueID(base string, used map[string]struct{}) string {
	id := base
	for n := 1; ; n++ {
		if _, taken := used[id]; !taken {
			used[id] = struct{}{}
			return id
		}
		id = base + "-" + strconv.Itoa(n)
	}
}

func plainText(node *blackfriday.Node) string {
	var b strings.Builder
	node.Walk(func(child *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		if entering && (child.Type == blackfriday.Text || child.Type == blackfriday.Code) {
			b.Write(child.Literal)
		}
		return blackfriday.GoToNext
	})
	return strings.TrimSpace(b.String())
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
