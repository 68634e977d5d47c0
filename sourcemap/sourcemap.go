// Package sourcemap decodes Source Map v3 documents and answers
// generated-to-original position lookups. The decoder is a pure function
// over the map bytes; nothing here touches the network or a database.
package sourcemap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// rawMap is the Source Map v3 wire document.
type rawMap struct {
	Version  json.Number `json:"version"`
	Sources  []string    `json:"sources"`
	Names    []string    `json:"names"`
	Mappings string      `json:"mappings"`
}

// entry is one decoded mapping segment with absolute values, 0-based.
type entry struct {
	genCol    int
	srcIndex  int
	origLine  int
	origCol   int
	nameIndex int // -1 when the segment carries no name
}

// Consumer is a parsed source map ready for lookups.
type Consumer struct {
	sources []string
	names   []string
	// lines[i] holds the entries of generated line i, ordered by genCol.
	lines [][]entry
}

// OriginalPosition is a resolved original location. Line and Column are
// 1-based; Name is "" when the mapping carries none.
type OriginalPosition struct {
	Source string
	Line   int
	Column int
	Name   string
}

// Validate checks that data looks like a Source Map v3 document: numeric
// version, sources array, mappings string. Used by the upload endpoint
// before storing anything.
func Validate(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("sourcemap: not a JSON object: %w", err)
	}
	var version json.Number
	if raw, ok := m["version"]; !ok || json.Unmarshal(raw, &version) != nil {
		return fmt.Errorf("sourcemap: missing or non-numeric version")
	}
	var sources []string
	if raw, ok := m["sources"]; !ok || json.Unmarshal(raw, &sources) != nil {
		return fmt.Errorf("sourcemap: missing or invalid sources array")
	}
	var mappings string
	if raw, ok := m["mappings"]; !ok || json.Unmarshal(raw, &mappings) != nil {
		return fmt.Errorf("sourcemap: missing or invalid mappings string")
	}
	return nil
}

// Parse decodes a Source Map v3 document into a Consumer.
func Parse(data []byte) (*Consumer, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var raw rawMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("sourcemap: parse: %w", err)
	}

	c := &Consumer{sources: raw.Sources, names: raw.Names}

	// genCol resets per generated line; the other counters accumulate
	// across the whole map.
	srcIndex, origLine, origCol, nameIndex := 0, 0, 0, 0

	for _, lineStr := range strings.Split(raw.Mappings, ";") {
		var line []entry
		genCol := 0
		if lineStr != "" {
			for _, segStr := range strings.Split(lineStr, ",") {
				if segStr == "" {
					continue
				}
				fields, err := decodeSegment(segStr)
				if err != nil {
					return nil, err
				}
				genCol += fields[0]
				e := entry{genCol: genCol, nameIndex: -1}
				if len(fields) >= 4 {
					srcIndex += fields[1]
					origLine += fields[2]
					origCol += fields[3]
					e.srcIndex = srcIndex
					e.origLine = origLine
					e.origCol = origCol
				} else {
					e.srcIndex = -1
				}
				if len(fields) == 5 {
					nameIndex += fields[4]
					e.nameIndex = nameIndex
				}
				line = append(line, e)
			}
		}
		sort.Slice(line, func(i, j int) bool { return line[i].genCol < line[j].genCol })
		c.lines = append(c.lines, line)
	}
	return c, nil
}

// Lookup resolves a 1-based generated (line, column) to its original
// position. It selects the greatest mapping entry with
// (genLine, genCol) <= (line-1, column-1): binary search over the line's
// entries, which is a scan-free equivalent of the linear column scan.
// ok is false when the line has no entry at or before the column, or when
// the entry has no source reference.
func (c *Consumer) Lookup(line, column int) (OriginalPosition, bool) {
	genLine, genCol := line-1, column-1
	if genLine < 0 || genLine >= len(c.lines) {
		return OriginalPosition{}, false
	}
	entries := c.lines[genLine]
	if len(entries) == 0 {
		return OriginalPosition{}, false
	}

	// First entry with genCol > target, minus one.
	i := sort.Search(len(entries), func(i int) bool { return entries[i].genCol > genCol })
	if i == 0 {
		return OriginalPosition{}, false
	}
	e := entries[i-1]
	if e.srcIndex < 0 || e.srcIndex >= len(c.sources) {
		return OriginalPosition{}, false
	}

	pos := OriginalPosition{
		Source: c.sources[e.srcIndex],
		Line:   e.origLine + 1,
		Column: e.origCol + 1,
	}
	if e.nameIndex >= 0 && e.nameIndex < len(c.names) {
		pos.Name = c.names[e.nameIndex]
	}
	return pos, true
}
