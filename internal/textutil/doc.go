// Package textutil holds the small text transforms shared by the publisher,
// the renderer, and the feed: slug derivation, rune-aware truncation, and
// cleanup of model output.
package textutil
