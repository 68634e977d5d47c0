package tail

import (
	"context"
	"os"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/monlight/dbopen"
	"github.com/hazyhaar/monlight/logviewer/internal/store"
)

func testTailStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := dbopen.Migrate(db, store.Migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db)
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			t.Fatal(err)
		}
	}
}

func jsonLine(log, stream, ts string) string {
	return `{"log":"` + log + `\n","stream":"` + stream + `","time":"` + ts + `"}`
}

func TestPollerMultilineEntry(t *testing.T) {
	st := testTailStore(t)
	root := t.TempDir()
	logPath := writeContainerDir(t, root, "aaa111", "api")

	p := NewPoller(st, Config{Root: root, Containers: []string{"api"}}, nil, nil)
	if err := p.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}

	// Four lines where only the first matches a start pattern, then a new
	// start that finalizes them.
	appendLines(t, logPath,
		jsonLine("[ERROR] unhandled exception", "stdout", "2026-01-01T10:00:00Z"),
		jsonLine("Traceback (most recent call last):", "stdout", "2026-01-01T10:00:00Z"),
		jsonLine(`  File \"app.py\", line 10, in view`, "stdout", "2026-01-01T10:00:00Z"),
		jsonLine("ValueError: boom", "stdout", "2026-01-01T10:00:00Z"),
		jsonLine("[INFO] next request", "stdout", "2026-01-01T10:00:01Z"),
	)
	p.Poll(context.Background())

	got, err := st.Query(context.Background(), store.QueryFilter{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1 (the next start stays buffered)", len(got))
	}
	wantLines := []string{
		"[ERROR] unhandled exception",
		"Traceback (most recent call last):",
		`  File "app.py", line 10, in view`,
		"ValueError: boom",
	}
	if got[0].Message != strings.Join(wantLines, "\n") {
		t.Errorf("message = %q", got[0].Message)
	}
	if got[0].Level != "ERROR" {
		t.Errorf("level = %q, want ERROR", got[0].Level)
	}
	if got[0].Container != "api" {
		t.Errorf("container = %q, want api", got[0].Container)
	}
}

func TestPollerStartsAtEndOfFile(t *testing.T) {
	st := testTailStore(t)
	root := t.TempDir()
	logPath := writeContainerDir(t, root, "aaa111", "api")

	// History written before the first discovery must not be re-ingested.
	appendLines(t, logPath,
		jsonLine("[INFO] old line one", "stdout", "2026-01-01T09:00:00Z"),
		jsonLine("[INFO] old line two", "stdout", "2026-01-01T09:00:01Z"),
	)

	p := NewPoller(st, Config{Root: root}, nil, nil)
	if err := p.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	p.Poll(context.Background())

	got, err := st.Query(context.Background(), store.QueryFilter{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("fresh deployment ingested %d historical rows", len(got))
	}
}

func TestPollerRotationResetsCursor(t *testing.T) {
	st := testTailStore(t)
	root := t.TempDir()
	logPath := writeContainerDir(t, root, "aaa111", "api")

	p := NewPoller(st, Config{Root: root}, nil, nil)
	if err := p.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}

	appendLines(t, logPath,
		jsonLine("[INFO] before rotation", "stdout", "2026-01-01T10:00:00Z"),
		jsonLine("[INFO] closer", "stdout", "2026-01-01T10:00:01Z"),
	)
	p.Poll(context.Background())

	// Rotate: a new file appears at the same path with a fresh inode. The
	// poller must read it from offset zero.
	if err := os.Remove(logPath); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	appendLines(t, logPath,
		jsonLine("[INFO] after rotation", "stdout", "2026-01-01T10:01:00Z"),
		jsonLine("[INFO] closer two", "stdout", "2026-01-01T10:01:01Z"),
	)
	p.Poll(context.Background())

	got, err := st.Query(context.Background(), store.QueryFilter{Search: `"after rotation"`, Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rotated content: got %d rows, want 1", len(got))
	}
}

func TestPollerTruncationResetsCursor(t *testing.T) {
	st := testTailStore(t)
	root := t.TempDir()
	logPath := writeContainerDir(t, root, "aaa111", "api")

	p := NewPoller(st, Config{Root: root}, nil, nil)
	if err := p.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}

	appendLines(t, logPath,
		jsonLine("[INFO] a fairly long line to move the cursor forward", "stdout", "2026-01-01T10:00:00Z"),
		jsonLine("[INFO] closer", "stdout", "2026-01-01T10:00:01Z"),
	)
	p.Poll(context.Background())

	// Truncate in place: same inode, smaller size.
	if err := os.Truncate(logPath, 0); err != nil {
		t.Fatal(err)
	}
	appendLines(t, logPath,
		jsonLine("[INFO] post truncate", "stdout", "2026-01-01T10:01:00Z"),
		jsonLine("[INFO] closer two", "stdout", "2026-01-01T10:01:01Z"),
	)
	p.Poll(context.Background())

	got, err := st.Query(context.Background(), store.QueryFilter{Search: "truncate", Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("post-truncate content: got %d rows, want 1", len(got))
	}
}

func TestPollerPersistsCursor(t *testing.T) {
	st := testTailStore(t)
	root := t.TempDir()
	logPath := writeContainerDir(t, root, "aaa111", "api")

	p := NewPoller(st, Config{Root: root}, nil, nil)
	if err := p.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}

	appendLines(t, logPath,
		jsonLine("[INFO] one", "stdout", "2026-01-01T10:00:00Z"),
		jsonLine("[INFO] two", "stdout", "2026-01-01T10:00:01Z"),
	)
	p.Poll(context.Background())

	cur, ok, err := st.GetCursor(context.Background(), "aaa111", logPath)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if !ok {
		t.Fatal("cursor should be persisted after a poll")
	}
	fi, err := os.Stat(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Position != fi.Size() {
		t.Errorf("cursor position = %d, want file size %d", cur.Position, fi.Size())
	}

	// A second poller picks up where the first left off: no duplicates.
	p2 := NewPoller(st, Config{Root: root}, nil, nil)
	if err := p2.Discover(context.Background()); err != nil {
		t.Fatalf("rediscover: %v", err)
	}
	appendLines(t, logPath,
		jsonLine("[INFO] three", "stdout", "2026-01-01T10:00:02Z"),
		jsonLine("[INFO] four", "stdout", "2026-01-01T10:00:03Z"),
	)
	p2.Poll(context.Background())

	got, err := st.Query(context.Background(), store.QueryFilter{Limit: 50})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// "one" finalized by the first poller, "three" by the second; "two" was
	// still buffered when the first poller went away and "four" still is.
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
}

func TestPollerInsertFailureResetsBuffers(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := dbopen.Migrate(db, store.Migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(db)
	root := t.TempDir()
	logPath := writeContainerDir(t, root, "aaa111", "api")

	p := NewPoller(st, Config{Root: root}, nil, nil)
	if err := p.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}

	appendLines(t, logPath,
		jsonLine("[INFO] one", "stdout", "2026-01-01T10:00:00Z"),
		jsonLine("[INFO] two", "stdout", "2026-01-01T10:00:01Z"),
	)
	p.Poll(context.Background())

	// Wedge the table so the next commit fails. The failed poll read the
	// "three" line without advancing its cursor; a stale buffer would see
	// that line twice once the table recovers.
	if _, err := db.Exec(`CREATE TRIGGER wedge BEFORE INSERT ON logs BEGIN SELECT RAISE(ABORT, 'wedged'); END`); err != nil {
		t.Fatal(err)
	}
	appendLines(t, logPath, jsonLine("[INFO] three", "stdout", "2026-01-01T10:00:02Z"))
	p.Poll(context.Background())

	if _, err := db.Exec(`DROP TRIGGER wedge`); err != nil {
		t.Fatal(err)
	}
	p.Poll(context.Background())
	appendLines(t, logPath, jsonLine("[INFO] four", "stdout", "2026-01-01T10:00:03Z"))
	p.Poll(context.Background())

	got, err := st.Query(context.Background(), store.QueryFilter{Limit: 50})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var threes int
	for _, e := range got {
		if e.Message == "[INFO] three" {
			threes++
		}
	}
	if threes != 1 {
		t.Errorf("replayed entry stored %d times, want 1", threes)
	}
	if len(got) != 2 {
		t.Errorf("got %d rows, want 2 (one and three)", len(got))
	}
}

func TestPollerSinkReceivesCommittedEntries(t *testing.T) {
	st := testTailStore(t)
	root := t.TempDir()
	logPath := writeContainerDir(t, root, "aaa111", "api")

	var published []*store.Entry
	sink := func(entries []*store.Entry) { published = append(published, entries...) }

	p := NewPoller(st, Config{Root: root}, sink, nil)
	if err := p.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}

	appendLines(t, logPath,
		jsonLine("[INFO] one", "stdout", "2026-01-01T10:00:00Z"),
		jsonLine("[INFO] two", "stdout", "2026-01-01T10:00:01Z"),
	)
	p.Poll(context.Background())

	if len(published) != 1 {
		t.Fatalf("sink got %d entries, want 1", len(published))
	}
	if published[0].Message != "[INFO] one" {
		t.Errorf("sink entry = %q", published[0].Message)
	}
}
