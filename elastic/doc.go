// Package elastic is the search-index side of the migration: a thin
// Elasticsearch HTTP client exposing the earliest-indexed-record probe and
// per-project bulk writes. Each project owns one index named by a common
// prefix plus the project id; bulk actions are keyed by record id so
// re-migrating a row overwrites instead of duplicating.
package elastic
