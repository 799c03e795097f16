package source

import (
	"context"
	"testing"
	"time"

	"github.com/reportportal/complex-migrations/migration"
	"github.com/reportportal/complex-migrations/pager"
)

const testSchema = `
CREATE TABLE test_item (
    item_id   INTEGER PRIMARY KEY,
    launch_id INTEGER,
    retry_of  INTEGER
);
CREATE TABLE log (
    id          INTEGER PRIMARY KEY,
    log_time    TIMESTAMP NOT NULL,
    log_message TEXT,
    item_id     INTEGER NOT NULL,
    launch_id   INTEGER,
    project_id  INTEGER NOT NULL
);
`

func newTestSource(t *testing.T) *Source {
	t.Helper()
	db, err := Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	// The in-memory database vanishes if the pool opens a second connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema failed: %v", err)
	}
	src, err := New(db)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return src
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts.UTC()
}

// seed populates three items and six logs:
//
//	item 1: launch 100 (plain item)
//	item 2: no launch, retry of item 1 (launch resolvable one hop away)
//	item 3: launch 300
//
//	log 1..3: launch id on the row (direct branch)
//	log 4:    no launch, item 3 -> launch 300 via item join
//	log 5:    no launch, item 2 -> launch 100 via the retry original
//	log 6:    launch id on the row
func seed(t *testing.T, src *Source) {
	t.Helper()
	items := []struct {
		id      int64
		launch  any
		retryOf any
	}{
		{1, 100, nil},
		{2, nil, 1},
		{3, 300, nil},
	}
	for _, it := range items {
		if _, err := src.db.Exec(`INSERT INTO test_item(item_id, launch_id, retry_of) VALUES ($1, $2, $3)`,
			it.id, it.launch, it.retryOf); err != nil {
			t.Fatalf("insert item %d: %v", it.id, err)
		}
	}
	logs := []struct {
		id      int64
		at      time.Time
		item    int64
		launch  any
		project int64
	}{
		{1, at(t, "2024-03-01T10:00:00Z"), 1, 100, 7},
		{2, at(t, "2024-03-01T11:00:00Z"), 1, 100, 7},
		{3, at(t, "2024-03-02T09:00:00Z"), 3, 300, 8},
		{4, at(t, "2024-03-02T10:00:00Z"), 3, nil, 8},
		{5, at(t, "2024-03-03T08:00:00Z"), 2, nil, 7},
		{6, at(t, "2024-03-03T09:00:00Z"), 3, 300, 8},
	}
	for _, l := range logs {
		if _, err := src.db.Exec(`INSERT INTO log(id, log_time, log_message, item_id, launch_id, project_id) VALUES ($1, $2, $3, $4, $5, $6)`,
			l.id, l.at, "entry", l.item, l.launch, l.project); err != nil {
			t.Fatalf("insert log %d: %v", l.id, err)
		}
	}
}

func TestEarliestIDEmptyTable(t *testing.T) {
	src := newTestSource(t)
	_, ok, err := src.EarliestID(context.Background())
	if err != nil {
		t.Fatalf("EarliestID failed: %v", err)
	}
	if ok {
		t.Fatalf("EarliestID on empty table reported a row")
	}
}

func TestEarliestID(t *testing.T) {
	src := newTestSource(t)
	seed(t, src)
	id, ok, err := src.EarliestID(context.Background())
	if err != nil {
		t.Fatalf("EarliestID failed: %v", err)
	}
	if !ok || id != 1 {
		t.Fatalf("EarliestID = (%d, %v), want (1, true)", id, ok)
	}
}

func TestIDNearTime(t *testing.T) {
	src := newTestSource(t)
	seed(t, src)

	id, ok, err := src.IDNearTime(context.Background(), at(t, "2024-03-02T00:00:00Z"))
	if err != nil {
		t.Fatalf("IDNearTime failed: %v", err)
	}
	if !ok || id != 3 {
		t.Fatalf("IDNearTime = (%d, %v), want (3, true)", id, ok)
	}

	// Newer than every log: no resume row.
	_, ok, err = src.IDNearTime(context.Background(), at(t, "2025-01-01T00:00:00Z"))
	if err != nil {
		t.Fatalf("IDNearTime failed: %v", err)
	}
	if ok {
		t.Fatalf("IDNearTime past the newest log reported a row")
	}
}

func TestBatchWithLaunch(t *testing.T) {
	src := newTestSource(t)
	seed(t, src)

	recs, err := src.BatchWithLaunch(context.Background(), pager.Unbounded(), 10)
	if err != nil {
		t.Fatalf("BatchWithLaunch failed: %v", err)
	}
	wantIDs := []int64{6, 3, 2, 1}
	if len(recs) != len(wantIDs) {
		t.Fatalf("BatchWithLaunch returned %d rows, want %d", len(recs), len(wantIDs))
	}
	for i, rec := range recs {
		if rec.ID != wantIDs[i] {
			t.Errorf("row %d id = %d, want %d", i, rec.ID, wantIDs[i])
		}
	}
	if recs[0].LaunchID != 300 || recs[0].ProjectID != 8 {
		t.Errorf("row 0 = %+v, want launch 300 project 8", recs[0])
	}

	// Bounded and limited: ids strictly below 6, at most 2.
	recs, err = src.BatchWithLaunch(context.Background(), pager.Before(6), 2)
	if err != nil {
		t.Fatalf("bounded BatchWithLaunch failed: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != 3 || recs[1].ID != 2 {
		t.Fatalf("bounded BatchWithLaunch ids = %v, want [3 2]", ids(recs))
	}
}

func TestBatchWithoutLaunchResolvesJoins(t *testing.T) {
	src := newTestSource(t)
	seed(t, src)

	recs, err := src.BatchWithoutLaunch(context.Background(), pager.Unbounded(), 10)
	if err != nil {
		t.Fatalf("BatchWithoutLaunch failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("BatchWithoutLaunch returned %d rows, want 2: %v", len(recs), ids(recs))
	}
	// log 5 resolves through the retry original (item 2 -> item 1 -> launch 100).
	if recs[0].ID != 5 || recs[0].LaunchID != 100 || recs[0].ProjectID != 7 {
		t.Errorf("row 0 = %+v, want id 5 launch 100 project 7", recs[0])
	}
	// log 4 resolves through its own item (item 3 -> launch 300).
	if recs[1].ID != 4 || recs[1].LaunchID != 300 || recs[1].ProjectID != 8 {
		t.Errorf("row 1 = %+v, want id 4 launch 300 project 8", recs[1])
	}
}

func TestBatchWithoutLaunchBounded(t *testing.T) {
	src := newTestSource(t)
	seed(t, src)

	recs, err := src.BatchWithoutLaunch(context.Background(), pager.Before(5), 10)
	if err != nil {
		t.Fatalf("BatchWithoutLaunch failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != 4 {
		t.Fatalf("bounded BatchWithoutLaunch ids = %v, want [4]", ids(recs))
	}
}

func TestBatchExcludesUnresolvableRows(t *testing.T) {
	src := newTestSource(t)
	seed(t, src)
	// An item with no launch and no retry link: its logs resolve nowhere and
	// must stay out of both branches.
	if _, err := src.db.Exec(`INSERT INTO test_item(item_id, launch_id, retry_of) VALUES (4, NULL, NULL)`); err != nil {
		t.Fatalf("insert orphan item: %v", err)
	}
	if _, err := src.db.Exec(`INSERT INTO log(id, log_time, log_message, item_id, launch_id, project_id) VALUES (7, $1, 'orphan', 4, NULL, 7)`,
		at(t, "2024-03-04T00:00:00Z")); err != nil {
		t.Fatalf("insert orphan log: %v", err)
	}

	direct, err := src.BatchWithLaunch(context.Background(), pager.Unbounded(), 10)
	if err != nil {
		t.Fatalf("BatchWithLaunch failed: %v", err)
	}
	joined, err := src.BatchWithoutLaunch(context.Background(), pager.Unbounded(), 10)
	if err != nil {
		t.Fatalf("BatchWithoutLaunch failed: %v", err)
	}
	for _, rec := range append(direct, joined...) {
		if rec.ID == 7 {
			t.Fatalf("unresolvable log 7 leaked into a branch")
		}
	}
}

func ids(recs []migration.LogRecord) []int64 {
	out := make([]int64, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.ID)
	}
	return out
}
