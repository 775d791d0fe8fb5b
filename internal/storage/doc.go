// Package storage persists task records.
//
// Four drivers share one contract (Store): a JSON snapshot file with an
// append journal, sqlite, postgres, and redis. Records are documents
// keyed by task id; queries are the narrow filter shape the engine
// needs (by id, due-before, status-exclusion) rather than a general
// query language.
package storage
