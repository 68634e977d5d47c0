package browserrelay

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hazyhaar/monlight/sourcemap"
)

// Stack frame grammars seen in browser error payloads.
const (
	grammarV8      = "v8"      // "at name (file:line:col)" / "at file:line:col"
	grammarFirefox = "firefox" // "name@file:line:col"
)

// frame is one parsed stack line. Lines that match neither grammar keep
// only Raw and pass through rewriting untouched.
type frame struct {
	Raw     string
	Indent  string
	Grammar string
	Name    string
	File    string
	Line    int
	Col     int
}

// parseStack splits a stack string into frames, one per line.
func parseStack(stack string) []frame {
	lines := strings.Split(stack, "\n")
	frames := make([]frame, 0, len(lines))
	for _, line := range lines {
		frames = append(frames, parseFrame(line))
	}
	return frames
}

func parseFrame(line string) frame {
	f := frame{Raw: line}
	trimmed := strings.TrimLeft(line, " \t")
	f.Indent = line[:len(line)-len(trimmed)]

	if rest, ok := strings.CutPrefix(trimmed, "at "); ok {
		return parseV8(f, rest)
	}
	if at := strings.Index(trimmed, "@"); at >= 0 {
		return parseGecko(f, trimmed[:at], trimmed[at+1:])
	}
	return f
}

func parseV8(f frame, rest string) frame {
	loc := rest
	if strings.HasSuffix(rest, ")") {
		open := strings.LastIndex(rest, "(")
		if open < 0 {
			return f
		}
		f.Name = strings.TrimSpace(rest[:open])
		loc = rest[open+1 : len(rest)-1]
	}
	file, line, col, ok := parseLocation(loc)
	if !ok {
		return frame{Raw: f.Raw, Indent: f.Indent}
	}
	f.Grammar = grammarV8
	f.File, f.Line, f.Col = file, line, col
	return f
}

func parseGecko(f frame, name, loc string) frame {
	file, line, col, ok := parseLocation(loc)
	if !ok {
		return frame{Raw: f.Raw, Indent: f.Indent}
	}
	f.Grammar = grammarFirefox
	f.Name = name
	f.File, f.Line, f.Col = file, line, col
	return f
}

// parseLocation splits "file:line:col" on the last two colons, so URLs
// with embedded colons (scheme, port) survive.
func parseLocation(loc string) (string, int, int, bool) {
	last := strings.LastIndex(loc, ":")
	if last < 0 {
		return "", 0, 0, false
	}
	col, err := strconv.Atoi(loc[last+1:])
	if err != nil {
		return "", 0, 0, false
	}
	prev := strings.LastIndex(loc[:last], ":")
	if prev < 0 {
		return "", 0, 0, false
	}
	line, err := strconv.Atoi(loc[prev+1 : last])
	if err != nil {
		return "", 0, 0, false
	}
	return loc[:prev], line, col, true
}

// normalizePath reduces a frame's file URL to its path component so map
// lookups are host-independent.
func normalizePath(fileURL string) string {
	if !strings.Contains(fileURL, "://") {
		return fileURL
	}
	u, err := url.Parse(fileURL)
	if err != nil {
		return fileURL
	}
	return u.Path
}

// mapResolver loads the parsed source map for a normalized file path, or
// nil when none is stored. Implementations cache per request.
type mapResolver func(path string) *sourcemap.Consumer

// rewriteStack maps each frame back to its original source position where
// a source map is available, preserving the frame's grammar and
// indentation. Unmapped and unparseable lines pass through unchanged.
func rewriteStack(stack string, resolve mapResolver) string {
	frames := parseStack(stack)
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = rewriteFrame(f, resolve)
	}
	return strings.Join(out, "\n")
}

func rewriteFrame(f frame, resolve mapResolver) string {
	if f.Grammar == "" {
		return f.Raw
	}
	c := resolve(normalizePath(f.File))
	if c == nil {
		return f.Raw
	}
	pos, ok := c.Lookup(f.Line, f.Col)
	if !ok {
		return f.Raw
	}

	name := f.Name
	if pos.Name != "" {
		name = pos.Name
	}
	loc := fmt.Sprintf("%s:%d:%d", pos.Source, pos.Line, pos.Column)

	switch f.Grammar {
	case grammarV8:
		if name == "" {
			return fmt.Sprintf("%sat %s", f.Indent, loc)
		}
		return fmt.Sprintf("%sat %s (%s)", f.Indent, name, loc)
	default:
		return fmt.Sprintf("%s%s@%s", f.Indent, name, loc)
	}
}
