// Package feed renders the public read surface of the blog: the RSS 2.0
// channel of recent articles and the sitemap.
package feed

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"quill/internal/store"
)

const (
	// DefaultLimit is the number of articles in the RSS channel.
	DefaultLimit = 20

	// pubDateFormat is the RFC 822 date layout RSS readers expect.
	pubDateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

	atomNamespace    = "http://www.w3.org/2005/Atom"
	sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"
)

// Channel describes the RSS channel.
type Channel struct {
	Title       string
	Description string
	Language    string
	BlogURL     string
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	AtomNS  string     `xml:"xmlns:atom,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Language    string    `xml:"language,omitempty"`
	AtomLink    atomLink  `xml:"atom:link"`
	Items       []rssItem `xml:"item"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type cdata struct {
	Text string `xml:",cdata"`
}

type rssItem struct {
	Title       cdata   `xml:"title"`
	Link        string  `xml:"link"`
	GUID        rssGUID `xml:"guid"`
	Description cdata   `xml:"description"`
	PubDate     string  `xml:"pubDate"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// RSS renders the channel with one item per article, in the given order.
func RSS(ch Channel, articles []store.Article) ([]byte, error) {
	blog := blogRoot(ch.BlogURL)
	doc := rssDocument{
		Version: "2.0",
		AtomNS:  atomNamespace,
		Channel: rssChannel{
			Title:       ch.Title,
			Link:        blog,
			Description: ch.Description,
			Language:    ch.Language,
			AtomLink:    atomLink{Href: blog + "/feed.xml", Rel: "self", Type: "application/rss+xml"},
		},
	}
	for _, article := range articles {
		link := ArticleURL(ch.BlogURL, article.Slug)
		doc.Channel.Items = append(doc.Channel.Items, rssItem{
			Title:       cdata{Text: article.Title},
			Link:        link,
			GUID:        rssGUID{IsPermaLink: true, Value: link},
			Description: cdata{Text: article.MetaDescription},
			PubDate:     article.PublishedAt.UTC().Format(pubDateFormat),
		})
	}
	return marshal(doc)
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	NS      string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// Sitemap lists the blog index, changing daily, followed by every article,
// changing weekly with its publish time as last modification.
func Sitemap(blogURL string, articles []store.Article, now time.Time) ([]byte, error) {
	set := urlSet{
		NS: sitemapNamespace,
		URLs: []sitemapURL{{
			Loc:        blogRoot(blogURL),
			LastMod:    now.UTC().Format(time.RFC3339),
			ChangeFreq: "daily",
			Priority:   "1.0",
		}},
	}
	for _, article := range articles {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        ArticleURL(blogURL, article.Slug),
			LastMod:    article.PublishedAt.UTC().Format(time.RFC3339),
			ChangeFreq: "weekly",
			Priority:   "0.8",
		})
	}
	return marshal(set)
}

// ArticleURL is the public address of an article.
func ArticleURL(blogURL, slug string) string {
	return blogRoot(blogURL) + "/" + slug
}

func blogRoot(blogURL string) string {
	return strings.TrimRight(strings.TrimSpace(blogURL), "/") + "/blog"
}

func marshal(v any) ([]byte, error) {
	body, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
