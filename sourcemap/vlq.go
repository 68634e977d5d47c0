package sourcemap

import "fmt"

// base64 alphabet used by Source Map v3 VLQ values.
const b64chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var b64rev = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(b64chars); i++ {
		t[b64chars[i]] = int8(i)
	}
	return t
}()

const (
	vlqBaseShift = 5
	vlqBaseMask  = 0b11111
	vlqContinue  = 0b100000
)

// decodeVLQ reads one signed Base64 VLQ value from s starting at pos.
// It returns the value and the index of the first byte after it.
func decodeVLQ(s string, pos int) (value, next int, err error) {
	shift := uint(0)
	result := 0
	for {
		if pos >= len(s) {
			return 0, 0, fmt.Errorf("sourcemap: truncated VLQ")
		}
		d := b64rev[s[pos]]
		if d < 0 {
			return 0, 0, fmt.Errorf("sourcemap: invalid VLQ character %q", s[pos])
		}
		pos++
		digit := int(d)
		result |= (digit & vlqBaseMask) << shift
		if digit&vlqContinue == 0 {
			break
		}
		shift += vlqBaseShift
		if shift > 35 {
			return 0, 0, fmt.Errorf("sourcemap: VLQ value too long")
		}
	}
	// Low bit is the sign.
	if result&1 == 1 {
		return -(result >> 1), pos, nil
	}
	return result >> 1, pos, nil
}

// decodeSegment decodes one comma-free mapping segment (1, 4 or 5 VLQ
// fields) into its relative field values.
func decodeSegment(seg string) ([]int, error) {
	fields := make([]int, 0, 5)
	pos := 0
	for pos < len(seg) {
		v, next, err := decodeVLQ(seg, pos)
		if err != nil {
			return nil, err
		}
		fields = append(fields, v)
		pos = next
	}
	switch len(fields) {
	case 1, 4, 5:
		return fields, nil
	default:
		return nil, fmt.Errorf("sourcemap: segment has %d fields, want 1, 4 or 5", len(fields))
	}
}
