package mdns

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by the name codec.
var (
	// ErrInvalidName is returned for names that cannot be written as DNS
	// labels and for received names that use the reserved 0x40/0x80 label types.
	ErrInvalidName = errors.New("mdns: invalid name")

	// ErrPointerLoop is returned when a compression pointer targets itself, a
	// later offset, or an offset already followed while decoding the same name.
	ErrPointerLoop = errors.New("mdns: compression pointer loop")
)

const (
	maxLabelLen = 63
	labelMask   = 0xC0
	labelPtr    = 0xC0
)

// encodeName writes name into the session buffer as length-prefixed labels
// followed by the root label. Outgoing names are never compressed.
//
// On failure the cursor is left where it was before the call.
func (s *Session) encodeName(name string) error {
	start := s.pos
	name = strings.TrimSuffix(name, ".")

	if name != "" {
		for _, label := range strings.Split(name, ".") {
			if len(label) == 0 || len(label) > maxLabelLen {
				s.pos = start
				return fmt.Errorf("%w: %q", ErrInvalidName, name)
			}
			if !s.put8(byte(len(label))) || !s.putBytes([]byte(label)) {
				s.pos = start
				return ErrBufferFull
			}
		}
	}

	if !s.put8(0) {
		s.pos = start
		return ErrBufferFull
	}
	return nil
}

// decodeName reads a possibly compressed name starting at off. It returns the
// dotted name, the offset just past the name as stored at off, and whether the
// text was clipped to maxTextLen bytes.
//
// Every pointer must target an offset below its own position and no target may
// be followed twice, so decoding always terminates.
func decodeName(msg []byte, off int) (string, int, bool, error) {
	var (
		b         strings.Builder
		next      = -1
		truncated bool
		visited   map[int]struct{}
	)

	for {
		if off >= len(msg) {
			return "", 0, false, ErrOverrun
		}
		c := int(msg[off])

		switch c & labelMask {
		case 0x00:
			off++
			if c == 0 {
				if next < 0 {
					next = off
				}
				return b.String(), next, truncated, nil
			}
			if off+c > len(msg) {
				return "", 0, false, ErrOverrun
			}
			truncated = appendLabel(&b, msg[off:off+c]) || truncated
			off += c

		case labelPtr:
			if off+1 >= len(msg) {
				return "", 0, false, ErrOverrun
			}
			ptr := (c&^labelMask)<<8 | int(msg[off+1])
			if ptr >= off {
				return "", 0, false, ErrPointerLoop
			}
			if visited == nil {
				visited = make(map[int]struct{}, 4)
			}
			if _, seen := visited[ptr]; seen {
				return "", 0, false, ErrPointerLoop
			}
			visited[ptr] = struct{}{}
			if next < 0 {
				next = off + 2
			}
			off = ptr

		default:
			return "", 0, false, fmt.Errorf("%w: label type 0x%02X", ErrInvalidName, c&labelMask)
		}
	}
}

// appendLabel adds a label to b, inserting the separator, without letting b
// grow past maxTextLen. It reports whether anything was dropped.
func appendLabel(b *strings.Builder, label []byte) bool {
	room := maxTextLen - b.Len()
	if b.Len() > 0 {
		if room <= 0 {
			return true
		}
		b.WriteByte('.')
		room--
	}
	if len(label) > room {
		b.Write(label[:max(room, 0)])
		return true
	}
	b.Write(label)
	return false
}
