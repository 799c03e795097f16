package migration

import "github.com/reportportal/complex-migrations/pager"

// GroupByProject merges one page of the two branch queries into per-project
// slices for bulk indexing. Within each project, records from the direct
// branch come first, then records resolved through the item join; relative
// order inside each branch is preserved. Returns nil when both pages are
// empty so callers can skip the write.
func GroupByProject(direct, joined []LogRecord) map[int64][]LogRecord {
	if len(direct)+len(joined) == 0 {
		return nil
	}
	groups := make(map[int64][]LogRecord)
	for _, rec := range direct {
		groups[rec.ProjectID] = append(groups[rec.ProjectID], rec)
	}
	for _, rec := range joined {
		groups[rec.ProjectID] = append(groups[rec.ProjectID], rec)
	}
	return groups
}

// NextCursor derives the bound for the following page from the two branch
// pages of the current one: the smaller of the branches' last ids. An empty
// branch contributes nothing; when both are empty the scan is exhausted.
// Taking the minimum keeps the branches in lock-step through the shared id
// space, at the cost of the shallower branch re-reading a few rows the next
// page. The index write is keyed by record id, so the re-read overwrites
// rather than duplicates.
func NextCursor(direct, joined []LogRecord) pager.Cursor {
	return pager.Advance(recordID, direct, joined)
}

func recordID(rec LogRecord) int64 { return rec.ID }
