package tail

import (
	"regexp"
	"strings"
	"time"

	"github.com/hazyhaar/monlight/logviewer/internal/store"
)

// flushAge is how long a buffered partial entry may wait for continuation
// lines before it is forced out.
const flushAge = 2 * time.Second

var (
	// Start-of-entry shapes: "[LEVEL]", "level=LEVEL", "LEVEL:", or a
	// leading ISO-8601 timestamp.
	bracketLevelRe = regexp.MustCompile(`^\s*\[(DEBUG|INFO|WARNING|WARN|ERROR|CRITICAL|FATAL)\]`)
	kvLevelRe      = regexp.MustCompile(`\blevel=(DEBUG|INFO|WARNING|WARN|ERROR|CRITICAL|FATAL|debug|info|warning|warn|error|critical|fatal)\b`)
	prefixLevelRe  = regexp.MustCompile(`^\s*(DEBUG|INFO|WARNING|WARN|ERROR|CRITICAL|FATAL):`)
	isoStartRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)

	levelWordRe = regexp.MustCompile(`\b(DEBUG|INFO|WARNING|WARN|ERROR|CRITICAL|FATAL)\b`)
)

// Line is one decoded Docker log line handed to the reassembler.
type Line struct {
	Text      string
	Stream    string // "stdout" or "stderr"
	Timestamp string // UTC ISO-8601
	Raw       string
}

// Reassembler folds continuation lines (stack traces, wrapped output) into
// the entry that started them. One instance per container; not safe for
// concurrent use — the poller owns it.
type Reassembler struct {
	container string

	buffered      []string
	bufferedRaw   []string
	bufferedSince time.Time
	stream        string
	timestamp     string

	now func() time.Time
}

// NewReassembler creates a Reassembler for one container.
func NewReassembler(container string) *Reassembler {
	return &Reassembler{container: container, now: time.Now}
}

// isStart reports whether a line begins a new entry.
func isStart(text string) bool {
	return bracketLevelRe.MatchString(text) ||
		kvLevelRe.MatchString(text) ||
		prefixLevelRe.MatchString(text) ||
		isoStartRe.MatchString(text)
}

// Feed processes one line. When the line starts a new entry, the previously
// buffered entry (if any) is finalized and returned; continuations return
// nil.
func (ra *Reassembler) Feed(l Line) *store.Entry {
	var done *store.Entry
	if isStart(l.Text) {
		done = ra.finalize()
		ra.bufferedSince = ra.now()
		ra.stream = l.Stream
		ra.timestamp = l.Timestamp
	} else if len(ra.buffered) == 0 {
		// Continuation with nothing buffered: treat it as its own start
		// so stray lines are never dropped.
		ra.bufferedSince = ra.now()
		ra.stream = l.Stream
		ra.timestamp = l.Timestamp
	}
	ra.buffered = append(ra.buffered, l.Text)
	ra.bufferedRaw = append(ra.bufferedRaw, l.Raw)
	return done
}

// FlushAged finalizes the buffer if it has been waiting longer than
// flushAge, so a trailing partial entry does not linger forever.
func (ra *Reassembler) FlushAged() *store.Entry {
	if len(ra.buffered) == 0 || ra.now().Sub(ra.bufferedSince) < flushAge {
		return nil
	}
	return ra.finalize()
}

// Flush finalizes whatever is buffered regardless of age. Used on shutdown.
func (ra *Reassembler) Flush() *store.Entry {
	return ra.finalize()
}

func (ra *Reassembler) finalize() *store.Entry {
	if len(ra.buffered) == 0 {
		return nil
	}
	message := strings.Join(ra.buffered, "\n")
	raw := strings.Join(ra.bufferedRaw, "")
	// Level comes from the first line only; continuations never override it.
	level := extractLevel(ra.buffered[0], ra.stream)

	e := &store.Entry{
		Timestamp: ra.timestamp,
		Container: ra.container,
		Stream:    ra.stream,
		Level:     level,
		Message:   message,
		Raw:       raw,
	}
	ra.buffered = nil
	ra.bufferedRaw = nil
	return e
}

// extractLevel finds the severity on the entry's first line. stderr output
// without a recognizable level defaults to ERROR, everything else to INFO.
func extractLevel(firstLine, stream string) string {
	m := levelWordRe.FindString(firstLine)
	if m == "" {
		if up := kvLevelRe.FindStringSubmatch(firstLine); up != nil {
			m = strings.ToUpper(up[1])
		}
	}
	switch m {
	case "DEBUG":
		return "DEBUG"
	case "INFO":
		return "INFO"
	case "WARN", "WARNING":
		return "WARNING"
	case "ERROR", "CRITICAL", "FATAL":
		return "ERROR"
	}
	if stream == "stderr" {
		return "ERROR"
	}
	return "INFO"
}
