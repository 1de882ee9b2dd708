package testsupport

import (
	"testing"
	"time"

	"quill/internal/prompts"
)

// FixedNow is the clock used by test prompt catalogs.
var FixedNow = time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC)

// MustCatalog returns the embedded prompt catalog with a fixed clock.
func MustCatalog(t testing.TB) *prompts.Catalog {
	t.Helper()

	catalog, err := prompts.Default("Russian", prompts.WithClock(func() time.Time { return FixedNow }))
	if err != nil {
		t.Fatalf("load prompt catalog: %v", err)
	}
	return catalog
}
