// Package llm is the OpenRouter chat client shared by every generation stage.
//
// Stages depend on Generator and pick a Profile per call: the creative
// profile for mining and drafting, the fast profile for editing passes,
// titles, meta descriptions and announcement hooks.
//
// Transient failures (408, 429, 5xx, empty completions, network timeouts)
// are retried with doubling backoff capped at ten seconds; Retry-After wins
// when the endpoint sends one. Everything else fails on the first attempt.
// Errors carry the services markers so callers can classify them.
//
// DecodeJSON reads structured answers that models tend to wrap in fences or
// chatter.
package llm
