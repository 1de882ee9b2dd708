package testsupport

import (
	"context"
	"testing"

	"quill/internal/config"
	"quill/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// SeedTopic inserts a pending topic with the given title and score.
func SeedTopic(t testing.TB, st *store.Store, title string, score int, keywords ...string) int64 {
	t.Helper()

	ids, err := st.InsertMined(context.Background(), []store.Topic{{
		Title:    title,
		Angle:    "practical guide",
		Keywords: keywords,
		Score:    score,
		Status:   store.StatusPending,
	}})
	if err != nil {
		t.Fatalf("seed topic %q: %v", title, err)
	}
	return ids[0]
}

// MustTopic fetches a topic or fails the test.
func MustTopic(t testing.TB, st *store.Store, id int64) *store.Topic {
	t.Helper()

	topic, err := st.GetTopic(context.Background(), id)
	if err != nil {
		t.Fatalf("get topic %d: %v", id, err)
	}
	return topic
}
