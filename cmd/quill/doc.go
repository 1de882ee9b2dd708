// Package main hosts the quill CLI.
//
// The cobra command tree covers one-shot runs (run, mine), the long-lived
// service (serve), collaborator health, and operator maintenance of topics
// and published articles. Configuration is resolved once per invocation;
// commands that only touch the database never build the remote clients.
package main
