// Package logging assembles structured slog loggers and formatting helpers used
// across Quill.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code tags every line
// with the run id, topic id, and pipeline stage. Degraded paths (a failed
// image, a skipped announcement) log through WarnWithContext so they always
// carry an event type, a hint, and the impact on the published article.
package logging
