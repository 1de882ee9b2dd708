// Package store persists topics and published articles in SQLite.
//
// Topics move through a closed transition table (pending, writing, used,
// rejected). Every transition is a single conditional UPDATE guarded by the
// expected source status, which makes Claim the only serialization point
// between concurrent pipeline runs. Articles are inserted once, with the
// topic's writing to used transition committed in the same transaction.
//
// The schema is embedded and versioned through PRAGMA user_version; a database
// at another version is reported as
// ErrSchemaMismatch rather than migrated in place.
package store
