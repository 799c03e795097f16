// Package migration reconciles the relational log store with the search
// index: one run determines how far the index already covers the log
// history, then drains the remaining older records in descending-id pages
// until both sides agree. The relational reads and index writes are behind
// the RecordSource and IndexGateway interfaces; the package owns only the
// in-memory page cursor for the duration of a run.
package migration
