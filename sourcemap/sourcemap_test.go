package sourcemap

import "testing"

func TestLookupSingleSegment(t *testing.T) {
	c, err := Parse([]byte(`{"version":3,"sources":["a.ts"],"names":["fn"],"mappings":"AAAAA"}`))
	if err != nil {
		t.Fatal(err)
	}

	pos, ok := c.Lookup(1, 1)
	if !ok {
		t.Fatal("lookup(1,1) failed")
	}
	if pos.Source != "a.ts" || pos.Line != 1 || pos.Column != 1 || pos.Name != "fn" {
		t.Fatalf("got %+v, want a.ts:1:1 fn", pos)
	}
}

func TestLookupRelativeAccumulation(t *testing.T) {
	// Line 1: segment at genCol 0 -> a.ts:1:1, segment at genCol 4 -> a.ts:2:1.
	// Line 2: segment at genCol 0 -> a.ts:3:1.
	c, err := Parse([]byte(`{"version":3,"sources":["a.ts"],"names":[],"mappings":"AAAA,IACA;AACA"}`))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		genLine, genCol int
		wantLine        int
	}{
		{1, 1, 1},
		{1, 3, 1},  // before second segment, greatest entry is the first
		{1, 5, 2},  // exactly at the second segment
		{1, 80, 2}, // past the last segment of the line
		{2, 1, 3},
	}
	for _, tt := range tests {
		pos, ok := c.Lookup(tt.genLine, tt.genCol)
		if !ok {
			t.Fatalf("lookup(%d,%d) failed", tt.genLine, tt.genCol)
		}
		if pos.Line != tt.wantLine {
			t.Fatalf("lookup(%d,%d) line = %d, want %d", tt.genLine, tt.genCol, pos.Line, tt.wantLine)
		}
		if pos.Source != "a.ts" || pos.Column != 1 {
			t.Fatalf("lookup(%d,%d) = %+v", tt.genLine, tt.genCol, pos)
		}
	}
}

func TestLookupMisses(t *testing.T) {
	c, err := Parse([]byte(`{"version":3,"sources":["a.ts"],"names":[],"mappings":";IAAA"}`))
	if err != nil {
		t.Fatal(err)
	}

	// Line 1 has no mappings.
	if _, ok := c.Lookup(1, 1); ok {
		t.Fatal("lookup on empty line should miss")
	}
	// Line 2 first mapping starts at genCol 4; column 1 is before it.
	if _, ok := c.Lookup(2, 1); ok {
		t.Fatal("lookup before first segment should miss")
	}
	// Out of range line.
	if _, ok := c.Lookup(99, 1); ok {
		t.Fatal("lookup past last line should miss")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"valid", `{"version":3,"sources":[],"mappings":""}`, true},
		{"string version", `{"version":"3","sources":[],"mappings":""}`, false},
		{"missing sources", `{"version":3,"mappings":""}`, false},
		{"mappings not string", `{"version":3,"sources":[],"mappings":42}`, false},
		{"not json", `nope`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]byte(tt.in))
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
