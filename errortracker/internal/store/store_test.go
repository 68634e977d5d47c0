package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/hazyhaar/monlight/dbopen"
	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := dbopen.Migrate(db, Migrations); err != nil {
		t.Fatal(err)
	}
	return New(db)
}

func sampleInput(ts string) *IngestInput {
	return &IngestInput{
		Fingerprint:   "0123456789abcdef0123456789abcdef",
		Project:       "p",
		Environment:   "prod",
		ExceptionType: "ValueError",
		Message:       "boom",
		Traceback:     `File "/a.py", line 1, in f`,
		Timestamp:     ts,
	}
}

func TestIngestCreatesThenIncrements(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	res, err := st.Ingest(ctx, sampleInput("2026-01-01T00:00:00Z"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "created" || res.Count != 1 {
		t.Fatalf("first ingest = %+v", res)
	}

	res, err = st.Ingest(ctx, sampleInput("2026-01-01T00:00:05Z"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "incremented" || res.Count != 2 {
		t.Fatalf("second ingest = %+v", res)
	}

	var groups int
	st.DB.QueryRow(`SELECT COUNT(*) FROM errors`).Scan(&groups)
	if groups != 1 {
		t.Fatalf("groups = %d, want 1", groups)
	}

	g, occs, err := st.Get(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if g.Count != 2 || len(occs) != 2 {
		t.Fatalf("count = %d, occurrences = %d, want 2/2", g.Count, len(occs))
	}
	if g.LastSeen < g.FirstSeen {
		t.Fatalf("last_seen %s < first_seen %s", g.LastSeen, g.FirstSeen)
	}
}

func TestOccurrenceRingBound(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 7; i++ {
		in := sampleInput(fmt.Sprintf("2026-01-01T00:00:%02dZ", i))
		res, err := st.Ingest(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		lastID = res.ID
	}

	g, occs, err := st.Get(ctx, lastID)
	if err != nil {
		t.Fatal(err)
	}
	if g.Count != 7 {
		t.Fatalf("count = %d, want 7", g.Count)
	}
	if len(occs) != 5 {
		t.Fatalf("occurrences = %d, want 5", len(occs))
	}
	// Get returns newest first; the survivors are the contiguous tail 2..6.
	for i, o := range occs {
		want := fmt.Sprintf("2026-01-01T00:00:%02dZ", 6-i)
		if o.Timestamp != want {
			t.Fatalf("occurrence[%d].timestamp = %s, want %s", i, o.Timestamp, want)
		}
	}
}

func TestResolveAndReopen(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	res, err := st.Ingest(ctx, sampleInput("2026-01-01T00:00:00Z"))
	if err != nil {
		t.Fatal(err)
	}

	found, err := st.Resolve(ctx, res.ID, "2026-01-02T00:00:00Z")
	if err != nil || !found {
		t.Fatalf("resolve: found=%v err=%v", found, err)
	}

	g, _, _ := st.Get(ctx, res.ID)
	if !g.Resolved || g.ResolvedAt == nil {
		t.Fatalf("group not resolved: %+v", g)
	}

	// Resolve is idempotent: resolved_at keeps the first value.
	found, err = st.Resolve(ctx, res.ID, "2026-01-03T00:00:00Z")
	if err != nil || !found {
		t.Fatalf("second resolve: found=%v err=%v", found, err)
	}
	g, _, _ = st.Get(ctx, res.ID)
	if *g.ResolvedAt != "2026-01-02T00:00:00Z" {
		t.Fatalf("resolved_at = %s, want first value kept", *g.ResolvedAt)
	}

	// Re-ingest reopens: resolved cleared, count bumped, message refreshed.
	in := sampleInput("2026-01-04T00:00:00Z")
	in.Message = "boom again"
	reopen, err := st.Ingest(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if reopen.Status != "reopened" || reopen.Count != 2 {
		t.Fatalf("reopen = %+v", reopen)
	}
	g, _, _ = st.Get(ctx, res.ID)
	if g.Resolved || g.ResolvedAt != nil {
		t.Fatalf("group still resolved after reopen: %+v", g)
	}
	if g.Message != "boom again" {
		t.Fatalf("message = %q, want refreshed", g.Message)
	}
}

func TestResolveUnknownID(t *testing.T) {
	st := testStore(t)
	found, err := st.Resolve(context.Background(), 999, "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("resolve of unknown id reported found")
	}
}

func TestListFiltersAndOrder(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for i, fp := range []string{"aaa", "bbb", "ccc"} {
		in := sampleInput(fmt.Sprintf("2026-01-01T00:00:%02dZ", i))
		in.Fingerprint = fp
		if i == 2 {
			in.Project = "other"
		}
		if _, err := st.Ingest(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	groups, err := st.List(ctx, ListFilter{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 3 {
		t.Fatalf("len = %d, want 3", len(groups))
	}
	// Sorted by last_seen DESC.
	if groups[0].Fingerprint != "ccc" || groups[2].Fingerprint != "aaa" {
		t.Fatalf("order = %s,%s,%s", groups[0].Fingerprint, groups[1].Fingerprint, groups[2].Fingerprint)
	}

	groups, err = st.List(ctx, ListFilter{Project: "other", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Project != "other" {
		t.Fatalf("project filter returned %d rows", len(groups))
	}

	// Resolved groups disappear from the default view.
	st.Resolve(ctx, groups[0].ID, "2026-01-02T00:00:00Z")
	groups, _ = st.List(ctx, ListFilter{Project: "other", Limit: 10})
	if len(groups) != 0 {
		t.Fatal("resolved group still listed with resolved=false")
	}
	groups, _ = st.List(ctx, ListFilter{Project: "other", Resolved: true, Limit: 10})
	if len(groups) != 1 {
		t.Fatal("resolved group missing from resolved=true view")
	}
}

func TestRetentionDeleteCascades(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	res, _ := st.Ingest(ctx, sampleInput("2026-01-01T00:00:00Z"))
	st.Resolve(ctx, res.ID, "2026-01-02T00:00:00Z")

	// Cutoff before resolved_at: nothing deleted.
	n, err := st.DeleteResolvedBefore(ctx, "2026-01-01T00:00:00Z")
	if err != nil || n != 0 {
		t.Fatalf("early cutoff deleted %d (err %v)", n, err)
	}

	n, err = st.DeleteResolvedBefore(ctx, "2026-02-01T00:00:00Z")
	if err != nil || n != 1 {
		t.Fatalf("deleted %d (err %v), want 1", n, err)
	}

	var occs int
	st.DB.QueryRow(`SELECT COUNT(*) FROM error_occurrences`).Scan(&occs)
	if occs != 0 {
		t.Fatalf("occurrences = %d after cascade, want 0", occs)
	}
}

func TestProjectsAndStats(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	a := sampleInput("2026-01-01T00:00:00Z")
	a.Fingerprint, a.Project = "aaa", "alpha"
	b := sampleInput("2026-01-01T00:00:01Z")
	b.Fingerprint, b.Project = "bbb", "beta"
	st.Ingest(ctx, a)
	st.Ingest(ctx, a)
	st.Ingest(ctx, b)

	projects, err := st.Projects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 2 || projects[0] != "alpha" || projects[1] != "beta" {
		t.Fatalf("projects = %v", projects)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats rows = %d", len(stats))
	}
	if stats[0].Project != "alpha" || stats[0].Events != 2 || stats[0].Open != 1 {
		t.Fatalf("alpha stats = %+v", stats[0])
	}
}
