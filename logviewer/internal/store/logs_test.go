package store

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/monlight/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := dbopen.Migrate(db, Migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func entry(ts, container, level, message string) *Entry {
	return &Entry{
		Timestamp: ts,
		Container: container,
		Stream:    "stdout",
		Level:     level,
		Message:   message,
	}
}

func TestInsertAndQueryOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := []*Entry{
		entry("2026-01-01T10:00:00Z", "api", "INFO", "first"),
		entry("2026-01-01T10:00:02Z", "api", "INFO", "third"),
		entry("2026-01-01T10:00:01Z", "api", "INFO", "second"),
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Query(ctx, QueryFilter{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	want := []string{"third", "second", "first"}
	for i, e := range got {
		if e.Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestQueryTiebreakNewestIDFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ts := "2026-01-01T10:00:00Z"
	batch := []*Entry{
		entry(ts, "api", "INFO", "older row"),
		entry(ts, "api", "INFO", "newer row"),
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Query(ctx, QueryFilter{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got[0].Message != "newer row" || got[1].Message != "older row" {
		t.Errorf("equal timestamps must order by id desc, got %q then %q",
			got[0].Message, got[1].Message)
	}
}

func TestQueryFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := []*Entry{
		entry("2026-01-01T10:00:00Z", "api", "INFO", "api info"),
		entry("2026-01-01T10:00:01Z", "api", "ERROR", "api error"),
		entry("2026-01-01T10:00:02Z", "worker", "ERROR", "worker error"),
		entry("2026-01-01T10:00:03Z", "worker", "INFO", "worker info"),
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	byContainer, err := s.Query(ctx, QueryFilter{Container: "api", Limit: 10})
	if err != nil {
		t.Fatalf("query container: %v", err)
	}
	if len(byContainer) != 2 {
		t.Errorf("container filter: got %d, want 2", len(byContainer))
	}

	byLevel, err := s.Query(ctx, QueryFilter{Level: "ERROR", Limit: 10})
	if err != nil {
		t.Fatalf("query level: %v", err)
	}
	if len(byLevel) != 2 {
		t.Errorf("level filter: got %d, want 2", len(byLevel))
	}

	both, err := s.Query(ctx, QueryFilter{Container: "worker", Level: "ERROR", Limit: 10})
	if err != nil {
		t.Fatalf("query both: %v", err)
	}
	if len(both) != 1 || both[0].Message != "worker error" {
		t.Errorf("combined filter: got %+v", both)
	}

	window, err := s.Query(ctx, QueryFilter{
		Since: "2026-01-01T10:00:01Z",
		Until: "2026-01-01T10:00:02Z",
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("query window: %v", err)
	}
	if len(window) != 2 {
		t.Errorf("time window: got %d, want 2", len(window))
	}
}

func TestQuerySearchFTS(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := []*Entry{
		entry("2026-01-01T10:00:00Z", "api", "ERROR", "connection refused by upstream"),
		entry("2026-01-01T10:00:01Z", "api", "INFO", "request completed"),
		entry("2026-01-01T10:00:02Z", "worker", "ERROR", "database connection lost"),
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Query(ctx, QueryFilter{Search: "connection", Limit: 10})
	if err != nil {
		t.Fatalf("fts query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("search connection: got %d, want 2", len(got))
	}
	if got[0].Message != "database connection lost" {
		t.Errorf("search results must be newest first, got %q", got[0].Message)
	}

	narrowed, err := s.Query(ctx, QueryFilter{Search: "connection", Container: "api", Limit: 10})
	if err != nil {
		t.Fatalf("fts query narrowed: %v", err)
	}
	if len(narrowed) != 1 || narrowed[0].Container != "api" {
		t.Errorf("search + container: got %+v", narrowed)
	}
}

func TestSearchIndexFollowsDeletes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var batch []*Entry
	for i := 0; i < 10; i++ {
		batch = append(batch, entry("2026-01-01T10:00:00Z", "api", "INFO", "needle haystack"))
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.TrimToMax(ctx, 4, 2); err != nil {
		t.Fatalf("trim: %v", err)
	}

	got, err := s.Query(ctx, QueryFilter{Search: "needle", Limit: 50})
	if err != nil {
		t.Fatalf("fts query after trim: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("fts rows after trim: got %d, want 2", len(got))
	}
}

func TestTrimToMax(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var batch []*Entry
	for i := 0; i < 20; i++ {
		batch = append(batch, entry("2026-01-01T10:00:00Z", "api", "INFO", "line"))
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Under the ceiling: nothing removed.
	n, err := s.TrimToMax(ctx, 30, 5)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if n != 0 {
		t.Errorf("trim under ceiling removed %d rows", n)
	}

	// Over the ceiling: count-max+margin oldest rows go.
	n, err = s.TrimToMax(ctx, 15, 5)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if n != 10 {
		t.Errorf("trim removed %d rows, want 10", n)
	}

	var remaining int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM logs`).Scan(&remaining); err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 10 {
		t.Errorf("remaining rows = %d, want 10", remaining)
	}

	// The survivors are the newest rows.
	var minID int64
	if err := s.DB.QueryRow(`SELECT MIN(id) FROM logs`).Scan(&minID); err != nil {
		t.Fatalf("min id: %v", err)
	}
	if minID != 11 {
		t.Errorf("oldest surviving id = %d, want 11", minID)
	}
}

func TestContainers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := []*Entry{
		entry("2026-01-01T10:00:00Z", "worker", "INFO", "a"),
		entry("2026-01-01T10:00:01Z", "api", "INFO", "b"),
		entry("2026-01-01T10:00:02Z", "api", "INFO", "c"),
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	names, err := s.Containers(ctx)
	if err != nil {
		t.Fatalf("containers: %v", err)
	}
	if len(names) != 2 || names[0] != "api" || names[1] != "worker" {
		t.Errorf("containers = %v, want [api worker]", names)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, ok, err := s.GetCursor(ctx, "abc123", "/logs/abc123-json.log")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("cursor should not exist yet")
	}

	c := &Cursor{ContainerID: "abc123", FilePath: "/logs/abc123-json.log", Position: 4096, Inode: 777}
	if err := s.SaveCursor(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := s.GetCursor(ctx, "abc123", "/logs/abc123-json.log")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("cursor should exist")
	}
	if got.Position != 4096 || got.Inode != 777 {
		t.Errorf("cursor = %+v", got)
	}

	// Upsert overwrites in place.
	c.Position = 8192
	c.Inode = 778
	if err := s.SaveCursor(ctx, c); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, _, err = s.GetCursor(ctx, "abc123", "/logs/abc123-json.log")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if got.Position != 8192 || got.Inode != 778 {
		t.Errorf("cursor after upsert = %+v", got)
	}

	var rows int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM log_cursors`).Scan(&rows); err != nil {
		t.Fatalf("count cursors: %v", err)
	}
	if rows != 1 {
		t.Errorf("cursor rows = %d, want 1", rows)
	}
}

func TestInsertBatchEmpty(t *testing.T) {
	s := testStore(t)
	if err := s.InsertBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}
