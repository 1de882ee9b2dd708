// Package config loads, normalizes, and validates Quill configuration.
//
// Load looks for the file named by --config, then $QUILL_CONFIG, then
// ~/.config/quill/config.toml, then ./quill.toml. Decoding is strict: a
// misspelled key fails the load instead of silently keeping a default. After
// decoding, an optional dotenv file is applied and credentials fall back to
// the usual environment variables (OPENROUTER_API_KEY, EXA_API_KEY, ...).
//
// Downstream code receives absolute paths, resolved generation profiles and
// trimmed URLs, so nothing else re-parses settings.
package config
