package tail

import (
	"strings"
	"testing"
	"time"
)

func feedText(ra *Reassembler, texts ...string) []string {
	var out []string
	for _, txt := range texts {
		if e := ra.Feed(Line{Text: txt, Stream: "stdout", Timestamp: "2026-01-01T10:00:00Z", Raw: txt + "\n"}); e != nil {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestMultilineTracebackIsOneEntry(t *testing.T) {
	ra := NewReassembler("api")

	lines := []string{
		"[ERROR] unhandled exception in request",
		"Traceback (most recent call last):",
		`  File "app.py", line 10, in view`,
		"ValueError: boom",
	}
	done := feedText(ra, lines...)
	if len(done) != 0 {
		t.Fatalf("nothing should finalize mid-entry, got %d", len(done))
	}

	e := ra.Flush()
	if e == nil {
		t.Fatal("flush returned nil")
	}
	want := strings.Join(lines, "\n")
	if e.Message != want {
		t.Errorf("message = %q, want %q", e.Message, want)
	}
	if e.Level != "ERROR" {
		t.Errorf("level = %q, want ERROR", e.Level)
	}
}

func TestNewStartFinalizesPrevious(t *testing.T) {
	ra := NewReassembler("api")

	done := feedText(ra,
		"[INFO] request started",
		"continuation detail",
		"[WARNING] slow query",
	)
	if len(done) != 1 {
		t.Fatalf("got %d finalized entries, want 1", len(done))
	}
	if done[0] != "[INFO] request started\ncontinuation detail" {
		t.Errorf("finalized = %q", done[0])
	}

	e := ra.Flush()
	if e == nil || e.Level != "WARNING" {
		t.Errorf("buffered entry = %+v, want WARNING", e)
	}
}

func TestStartPatterns(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"[ERROR] boom", true},
		{"level=info msg=ok", true},
		{"WARNING: disk almost full", true},
		{"2026-01-01T10:00:00 request done", true},
		{"2026-01-01 10:00:00,123 request done", true},
		{"  at Object.fn (app.js:1:1)", false},
		{`  File "app.py", line 10`, false},
		{"ValueError: boom", false},
	}
	for _, tc := range cases {
		if got := isStart(tc.text); got != tc.want {
			t.Errorf("isStart(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestLevelExtraction(t *testing.T) {
	cases := []struct {
		first  string
		stream string
		want   string
	}{
		{"[DEBUG] verbose", "stdout", "DEBUG"},
		{"[WARN] careful", "stdout", "WARNING"},
		{"level=warn slow", "stdout", "WARNING"},
		{"CRITICAL: meltdown", "stdout", "ERROR"},
		{"FATAL: gone", "stdout", "ERROR"},
		{"plain text line", "stdout", "INFO"},
		{"plain text line", "stderr", "ERROR"},
		{"2026-01-01T10:00:00 INFO started", "stderr", "INFO"},
	}
	for _, tc := range cases {
		if got := extractLevel(tc.first, tc.stream); got != tc.want {
			t.Errorf("extractLevel(%q, %s) = %q, want %q", tc.first, tc.stream, got, tc.want)
		}
	}
}

func TestContinuationNeverOverridesLevel(t *testing.T) {
	ra := NewReassembler("api")
	feedText(ra,
		"[INFO] handling upload",
		"    ERROR while flushing buffers (quoted output, not our severity)",
	)
	e := ra.Flush()
	if e.Level != "INFO" {
		t.Errorf("level = %q, want INFO from first line", e.Level)
	}
}

func TestStrayContinuationBecomesEntry(t *testing.T) {
	ra := NewReassembler("api")
	done := feedText(ra, "orphan line without any start marker")
	if len(done) != 0 {
		t.Fatalf("orphan should buffer, not finalize")
	}
	e := ra.Flush()
	if e == nil || e.Message != "orphan line without any start marker" {
		t.Errorf("flush = %+v", e)
	}
}

func TestFlushAged(t *testing.T) {
	ra := NewReassembler("api")
	clock := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ra.now = func() time.Time { return clock }

	feedText(ra, "[INFO] lone entry")

	if e := ra.FlushAged(); e != nil {
		t.Fatal("fresh buffer must not age out")
	}
	clock = clock.Add(3 * time.Second)
	e := ra.FlushAged()
	if e == nil {
		t.Fatal("aged buffer should flush")
	}
	if e.Message != "[INFO] lone entry" {
		t.Errorf("message = %q", e.Message)
	}
	if e := ra.FlushAged(); e != nil {
		t.Error("second aged flush should return nil")
	}
}

func TestFlushEmptyReturnsNil(t *testing.T) {
	ra := NewReassembler("api")
	if e := ra.Flush(); e != nil {
		t.Errorf("flush on empty buffer = %+v", e)
	}
}
