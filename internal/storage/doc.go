// Package storage persists schedule entries and their run bookkeeping.
//
// The primary backend is a SQLite database file, shared with whatever
// external tooling edits the schedule. A single-row marker table records
// when the last definition change happened, so readers can decide "no
// reconcile work needed" without scanning the entries table. A memory
// backend with the same observable semantics exists for development runs
// and tests.
package storage
