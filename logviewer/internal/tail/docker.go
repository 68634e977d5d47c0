// Package tail reads Docker json-file logs from the host filesystem:
// container discovery, cursor-tracked polling across rotations, and
// multiline reassembly.
package tail

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// wireLayout is the timestamp format stored on log rows.
const wireLayout = "2006-01-02T15:04:05Z"

// dockerLine is one line of a Docker json-file log.
type dockerLine struct {
	Log    string `json:"log"`
	Stream string `json:"stream"`
	Time   string `json:"time"`
}

// parseDockerLine decodes one raw json-file line into a reassembler Line.
func parseDockerLine(raw []byte) (Line, error) {
	var dl dockerLine
	if err := json.Unmarshal(raw, &dl); err != nil {
		return Line{}, fmt.Errorf("malformed docker log line: %w", err)
	}
	if dl.Stream != "stdout" && dl.Stream != "stderr" {
		return Line{}, fmt.Errorf("unknown stream %q", dl.Stream)
	}

	ts := dl.Time
	if t, err := time.Parse(time.RFC3339Nano, dl.Time); err == nil {
		ts = t.UTC().Format(wireLayout)
	}

	return Line{
		Text:      strings.TrimRight(dl.Log, "\n"),
		Stream:    dl.Stream,
		Timestamp: ts,
		Raw:       dl.Log,
	}, nil
}

// containerConfig is the subset of Docker's config.v2.json we need.
type containerConfig struct {
	Name string `json:"Name"`
}

// Source is one discovered container log file.
type Source struct {
	ContainerID string
	Name        string
	Path        string
}

// Discover scans root for container directories, resolves each name from
// config.v2.json, and keeps those listed in watched. An empty watched set
// keeps everything.
func Discover(root string, watched []string) ([]*Source, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scan log sources %s: %w", root, err)
	}

	keep := make(map[string]bool, len(watched))
	for _, w := range watched {
		keep[w] = true
	}

	var sources []*Source
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		id := ent.Name()
		name := containerName(filepath.Join(root, id))
		if name == "" {
			continue
		}
		if len(keep) > 0 && !keep[name] {
			continue
		}
		logPath := filepath.Join(root, id, id+"-json.log")
		if _, err := os.Stat(logPath); err != nil {
			continue
		}
		sources = append(sources, &Source{ContainerID: id, Name: name, Path: logPath})
	}
	return sources, nil
}

// containerName reads the container name from config.v2.json, falling back
// to hostconfig.json presence with the directory name as identity.
func containerName(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "config.v2.json"))
	if err == nil {
		var cfg containerConfig
		if json.Unmarshal(data, &cfg) == nil && cfg.Name != "" {
			return strings.TrimPrefix(cfg.Name, "/")
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "hostconfig.json")); err == nil {
		return filepath.Base(dir)
	}
	return ""
}

// fileInode returns the inode identifying a file across rotations.
func fileInode(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Ino)
	}
	return 0
}
