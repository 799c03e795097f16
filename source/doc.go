// Package source reads log rows for the migration through a database/sql
// handle. It issues the two branch queries of the paging loop — rows that
// already carry a launch id, and rows whose launch must be resolved through
// their test item — plus the earliest-id and id-near-timestamp probes that
// pick the resume point.
package source
