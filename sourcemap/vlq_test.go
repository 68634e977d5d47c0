package sourcemap

import "testing"

func TestDecodeVLQ(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"A", 0},
		{"C", 1},
		{"E", 2},
		{"G", 3},
		{"I", 4},
		{"D", -1},
		{"F", -2},
		{"e", 15},
		{"gB", 16},
		{"hB", -16},
		{"ggB", 512}, // three digits: 1 << 10, halved for the sign bit
	}
	for _, tt := range tests {
		got, next, err := decodeVLQ(tt.in, 0)
		if err != nil {
			t.Fatalf("decodeVLQ(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("decodeVLQ(%q) = %d, want %d", tt.in, got, tt.want)
		}
		if next != len(tt.in) {
			t.Fatalf("decodeVLQ(%q) consumed %d bytes, want %d", tt.in, next, len(tt.in))
		}
	}
}

func TestDecodeVLQTruncated(t *testing.T) {
	// 'g' has the continuation bit set with nothing after it.
	if _, _, err := decodeVLQ("g", 0); err == nil {
		t.Fatal("expected error for truncated VLQ")
	}
}

func TestDecodeVLQInvalidChar(t *testing.T) {
	if _, _, err := decodeVLQ("!", 0); err == nil {
		t.Fatal("expected error for invalid character")
	}
}

func TestDecodeSegmentFieldCounts(t *testing.T) {
	for _, seg := range []string{"A", "AAAA", "AAAAA"} {
		if _, err := decodeSegment(seg); err != nil {
			t.Fatalf("decodeSegment(%q): %v", seg, err)
		}
	}
	for _, seg := range []string{"AA", "AAA"} {
		if _, err := decodeSegment(seg); err == nil {
			t.Fatalf("decodeSegment(%q): expected field-count error", seg)
		}
	}
}
