// Package draft holds the text operations applied to an article body while it
// moves between pipeline stages.
//
// A body is markdown. Image placeholders are written as
// `![MEME: description](placeholder)` and are treated as opaque tokens by every
// stage except image resolution. Section boundaries are second-level headings.
// Preserve re-inserts placeholders that a rewriting pass dropped, and
// Substitute consumes them once images exist.
package draft
