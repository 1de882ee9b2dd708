// Package daemon runs quill as a long-lived service.
//
// It holds a flock on the data directory so only one instance serves a
// database, schedules generation and mining with cron expressions, and
// exposes the HTTP surface: secret-guarded triggers, view counting, status,
// the RSS feed, the sitemap and Prometheus metrics.
//
// Pipeline stages live in their own packages; the daemon only decides when
// they run and under which deadline.
package daemon
