// Package fileutil provides verified atomic file writes.
package fileutil
