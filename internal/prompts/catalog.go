// Package prompts loads the text generation prompt catalog and renders its
// templates for each pipeline stage.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"quill/internal/services"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// Catalog entry names.
const (
	MineTopics      = "mine_topics"
	WriteArticle    = "write_article"
	EditStructure   = "edit_structure"
	EditCoherence   = "edit_coherence"
	EditStyle       = "edit_style"
	EditFactCheck   = "edit_factcheck"
	ShortenTitle    = "shorten_title"
	MetaDescription = "meta_description"
	AnnounceHook    = "announce_hook"
	Image           = "image"
)

var required = []string{
	MineTopics, WriteArticle,
	EditStructure, EditCoherence, EditStyle, EditFactCheck,
	ShortenTitle, MetaDescription, AnnounceHook, Image,
}

type catalogFile struct {
	Version  int               `yaml:"version"`
	Product  string            `yaml:"product"`
	Prompts  map[string]string `yaml:"prompts"`
	Partials map[string]string `yaml:"partials"`
}

// Catalog renders named prompt templates.
type Catalog struct {
	language  string
	product   string
	now       func() time.Time
	templates map[string]*template.Template
}

// Option customizes a Catalog.
type Option func(*Catalog)

// WithClock overrides the clock used by the `today` helper.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// Default returns the embedded catalog.
func Default(language string, opts ...Option) (*Catalog, error) {
	return Load("", language, opts...)
}

// Load parses the embedded catalog and, when overridePath is set, replaces the
// entries defined in that file. Every catalog entry must parse and every
// required entry must be present.
func Load(overridePath, language string, opts ...Option) (*Catalog, error) {
	var base catalogFile
	if err := yaml.Unmarshal(defaultCatalog, &base); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "prompts", "parse embedded catalog", "", err)
	}

	if path := strings.TrimSpace(overridePath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "prompts", "read override", path, err)
		}
		var override catalogFile
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "prompts", "parse override", path, err)
		}
		base.merge(override)
	}

	language = strings.TrimSpace(language)
	if language == "" {
		language = "Russian"
	}
	catalog := &Catalog{
		language:  language,
		product:   strings.TrimSpace(base.Product),
		now:       time.Now,
		templates: make(map[string]*template.Template, len(base.Prompts)),
	}
	for _, opt := range opts {
		opt(catalog)
	}

	for name, body := range base.Prompts {
		tmpl, err := catalog.parse(name, body, base.Partials)
		if err != nil {
			return nil, err
		}
		catalog.templates[name] = tmpl
	}

	var missing []string
	for _, name := range required {
		if _, ok := catalog.templates[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, services.Wrap(services.ErrConfiguration, "prompts", "load", "missing entries: "+strings.Join(missing, ", "), nil)
	}
	return catalog, nil
}

func (f *catalogFile) merge(override catalogFile) {
	if strings.TrimSpace(override.Product) != "" {
		f.Product = override.Product
	}
	for name, body := range override.Prompts {
		f.Prompts[name] = body
	}
	if f.Partials == nil {
		f.Partials = make(map[string]string)
	}
	for name, body := range override.Partials {
		f.Partials[name] = body
	}
}

func (c *Catalog) parse(name, body string, partials map[string]string) (*template.Template, error) {
	funcs := template.FuncMap{
		"language": func() string { return c.language },
		"product":  func() string { return c.product },
		"today":    func() string { return c.now().Format("2006-01-02") },
		"join":     strings.Join,
	}
	root := template.New(name).Funcs(funcs).Option("missingkey=error")
	if _, err := root.Parse(body); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "prompts", "parse", name, err)
	}
	for partialName, partialBody := range partials {
		if _, err := root.New(partialName).Parse(partialBody); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "prompts", "parse partial", partialName, err)
		}
	}
	return root, nil
}

// Render executes the named template with data and returns the trimmed prompt.
func (c *Catalog) Render(name string, data any) (string, error) {
	tmpl, ok := c.templates[name]
	if !ok {
		return "", services.Wrap(services.ErrConfiguration, "prompts", "render", fmt.Sprintf("unknown prompt %q", name), nil)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "prompts", "render", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Language returns the output language the catalog asks for.
func (c *Catalog) Language() string {
	return c.language
}

// Names lists the loaded entries in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
