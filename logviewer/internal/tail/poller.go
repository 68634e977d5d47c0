package tail

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/monlight/logviewer/internal/store"
)

// readChunk bounds single reads from a log file.
const readChunk = 64 * 1024

// Sink receives the entries committed by one poll. The tail hub hangs off
// this; it must not block.
type Sink func(entries []*store.Entry)

// Config tunes the Poller.
type Config struct {
	// Root is the docker containers directory (LOG_SOURCES).
	Root string
	// Containers is the allowlist of container names to watch.
	Containers []string
	// Interval is the poll frequency. Default 2s.
	Interval time.Duration
	// MaxEntries is the log ring ceiling.
	MaxEntries int
	// TrimMargin is the extra headroom deleted per trim burst.
	TrimMargin int
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 100_000
	}
	if c.TrimMargin <= 0 {
		c.TrimMargin = 500
	}
}

// watched is the per-file poll state.
type watched struct {
	src    *Source
	cursor store.Cursor
	ra     *Reassembler
}

// Poller tails the discovered container log files into the store. It owns
// its database connection and runs as a single goroutine.
type Poller struct {
	store  *store.Store
	cfg    Config
	sink   Sink
	logger *slog.Logger
	files  []*watched
}

// NewPoller creates a Poller. sink may be nil.
func NewPoller(st *store.Store, cfg Config, sink Sink, logger *slog.Logger) *Poller {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = func([]*store.Entry) {}
	}
	return &Poller{store: st, cfg: cfg, sink: sink, logger: logger}
}

// Discover resolves the watched files and loads or initializes their
// cursors. A file without a persisted cursor starts at end-of-file so a
// fresh deployment does not re-ingest history.
func (p *Poller) Discover(ctx context.Context) error {
	sources, err := Discover(p.cfg.Root, p.cfg.Containers)
	if err != nil {
		return err
	}

	for _, src := range sources {
		w := &watched{src: src, ra: NewReassembler(src.Name)}

		cur, ok, err := p.store.GetCursor(ctx, src.ContainerID, src.Path)
		if err != nil {
			return err
		}
		if ok {
			w.cursor = *cur
		} else {
			w.cursor = store.Cursor{ContainerID: src.ContainerID, FilePath: src.Path}
			if fi, err := os.Stat(src.Path); err == nil {
				w.cursor.Position = fi.Size()
				w.cursor.Inode = fileInode(fi)
			}
		}
		p.files = append(p.files, w)
		p.logger.Info("watching container log",
			"container", src.Name, "path", src.Path, "position", w.cursor.Position)
	}

	if len(p.files) == 0 {
		p.logger.Warn("no container logs matched", "root", p.cfg.Root)
	}
	return nil
}

// Run polls until ctx is cancelled, then flushes buffered partials.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flushAll(context.Background())
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one pass over every watched file: read new complete lines,
// reassemble, commit the batch, then persist cursors and publish.
func (p *Poller) Poll(ctx context.Context) {
	var entries []*store.Entry
	advanced := make(map[*watched]int64)

	for _, w := range p.files {
		consumed, batch, err := p.pollFile(w)
		if err != nil {
			p.logger.Warn("poll failed", "container", w.src.Name, "error", err)
			continue
		}
		entries = append(entries, batch...)
		advanced[w] = consumed
	}

	// Age out partial buffers so a lone trailing line is not held forever.
	for _, w := range p.files {
		if e := w.ra.FlushAged(); e != nil {
			entries = append(entries, e)
		}
	}

	if err := p.store.InsertBatch(ctx, entries); err != nil {
		p.logger.Error("log batch insert failed", "entries", len(entries), "error", err)
		// The next poll re-reads from the uncommitted cursors; a stale
		// buffer would double-feed those lines, so drop the buffers.
		for _, w := range p.files {
			w.ra = NewReassembler(w.src.Name)
		}
		return
	}

	// Cursors advance only after the batch commits, so a crash replays the
	// poll instead of losing it.
	for w, consumed := range advanced {
		w.cursor.Position += consumed
		if err := p.store.SaveCursor(ctx, &w.cursor); err != nil {
			p.logger.Error("cursor save failed", "container", w.src.Name, "error", err)
		}
	}

	if len(entries) > 0 {
		p.sink(entries)
		if _, err := p.store.TrimToMax(ctx, p.cfg.MaxEntries, p.cfg.TrimMargin); err != nil {
			p.logger.Error("log trim failed", "error", err)
		}
	}
}

// pollFile reads new complete lines from one file and feeds the
// reassembler. It returns the byte count consumed (through the last
// newline) and the finalized entries.
func (p *Poller) pollFile(w *watched) (int64, []*store.Entry, error) {
	fi, err := os.Stat(w.src.Path)
	if err != nil {
		return 0, nil, err
	}

	if ino := fileInode(fi); ino != w.cursor.Inode {
		// Rotation: the path now points at a new file.
		w.cursor.Position = 0
		w.cursor.Inode = ino
	} else if fi.Size() < w.cursor.Position {
		// Truncated in place.
		w.cursor.Position = 0
	}

	f, err := os.Open(w.src.Path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	if _, err := f.Seek(w.cursor.Position, io.SeekStart); err != nil {
		return 0, nil, err
	}

	var data []byte
	buf := make([]byte, readChunk)
	for {
		n, err := f.Read(buf)
		data = append(data, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, nil, err
		}
	}

	// Only complete newline-terminated lines are consumed; a trailing
	// partial stays in the file for the next poll.
	last := bytes.LastIndexByte(data, '\n')
	if last < 0 {
		return 0, nil, nil
	}
	complete := data[:last+1]

	var entries []*store.Entry
	for _, raw := range bytes.Split(complete, []byte{'\n'}) {
		if len(raw) == 0 {
			continue
		}
		line, err := parseDockerLine(raw)
		if err != nil {
			p.logger.Warn("skipping log line", "container", w.src.Name, "error", err)
			continue
		}
		if e := w.ra.Feed(line); e != nil {
			entries = append(entries, e)
		}
	}
	return int64(len(complete)), entries, nil
}

// flushAll drains every reassembler buffer on shutdown.
func (p *Poller) flushAll(ctx context.Context) {
	var entries []*store.Entry
	for _, w := range p.files {
		if e := w.ra.Flush(); e != nil {
			entries = append(entries, e)
		}
	}
	if err := p.store.InsertBatch(ctx, entries); err != nil {
		p.logger.Error("final flush failed", "error", err)
	}
}
