package mdns

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// Record types understood by the decoder. Any other type is still decoded,
// but its RDATA is only rendered as a hex dump.
const (
	TypeA     uint16 = 0x0001
	TypePTR   uint16 = 0x000C
	TypeHINFO uint16 = 0x000D
	TypeTXT   uint16 = 0x0010
	TypeAAAA  uint16 = 0x001C
	TypeSRV   uint16 = 0x0021
)

// Query classes accepted on the wire.
const (
	ClassIN  uint16 = 0x0001
	ClassANY uint16 = 0x00FF
)

const (
	// Port is the mDNS UDP port, used both as source and destination.
	Port = 5353

	// DefaultTTL is the TTL used by the announcement helpers when none is given.
	DefaultTTL = 255

	// MaxPacketSize is the default size of a session buffer. Larger incoming
	// datagrams are truncated to the buffer size and counted in Stats.
	MaxPacketSize = 1024

	// MaxNameLen is the size of a decoded text field including its
	// terminator, so names and RDATA text hold at most MaxNameLen-1 bytes.
	MaxNameLen = 256
)

const (
	headerLen  = 12
	maxTextLen = MaxNameLen - 1
	classMask  = 0x7FFF

	flagResponse      = 0x80
	flagAuthoritative = 0x04
	flagTruncated     = 0x02
	rcodeMask         = 0x0F
)

// qClassCacheFlush is the top bit of the class field. In a question it asks
// for a unicast response; in a resource record it is the cache-flush bit.
const (
	qClassCacheFlush uint16 = 1 << 15
)

// Errors returned while building or parsing messages.
var (
	// ErrShortMessage means the datagram cannot even hold a header.
	ErrShortMessage = errors.New("mdns: message shorter than header")

	// ErrResponseCode means the header carried a nonzero response code.
	ErrResponseCode = errors.New("mdns: nonzero response code")

	// ErrOverrun means a field extends past the end of the message.
	ErrOverrun = errors.New("mdns: read past end of message")

	// ErrBufferFull means the outgoing record does not fit in the session buffer.
	ErrBufferFull = errors.New("mdns: session buffer full")

	// ErrOutOfOrder means a record was added after records of a later section.
	ErrOutOfOrder = errors.New("mdns: record added out of section order")

	// ErrUnsupportedType means the record type cannot be encoded.
	ErrUnsupportedType = errors.New("mdns: unsupported record type")

	// ErrInvalidRecord means the record fields do not match its type.
	ErrInvalidRecord = errors.New("mdns: invalid record")
)

// Header is the fixed 12-byte message header. The transaction ID is carried
// for display only; mDNS ignores it.
type Header struct {
	ID            uint16
	Response      bool
	Authoritative bool
	Truncated     bool
	Rcode         uint8
	QDCount       uint16
	ANCount       uint16
	NSCount       uint16
	ARCount       uint16
}

// Query is a single question, as received or as added to an outgoing packet.
type Query struct {
	Name            string
	Type            uint16
	Class           uint16
	UnicastResponse bool

	// Valid is false when the class is neither IN nor ANY.
	Valid bool
	// Truncated is set when Name was clipped to MaxNameLen-1 bytes.
	Truncated bool
	// Offset is the position of the question in the packet.
	Offset int
}

// Record is a single resource record.
//
// Data holds the RDATA rendered as text the way the decoder reports it. The
// typed fields are filled for the record types that carry them and are the
// inputs used when a record is encoded: Addr for A and AAAA, Target for PTR
// and SRV, Priority, Weight and Port for SRV.
type Record struct {
	Name       string
	Type       uint16
	Class      uint16
	CacheFlush bool
	TTL        uint32
	Data       string

	Addr     netip.Addr
	Target   string
	Priority uint16
	Weight   uint16
	Port     uint16

	// Valid is false when the RDATA could not be decoded.
	Valid bool
	// Truncated is set when Name or Data was clipped to MaxNameLen-1 bytes.
	Truncated bool
	// Offset is the position of the record in the packet.
	Offset int
}

// String renders the question in zone file order, for diagnostics.
func (q *Query) String() string {
	return fmt.Sprintf("%s\t%s\t%s\tunicast=%t valid=%t",
		q.Name, classString(q.Class), typeString(q.Type), q.UnicastResponse, q.Valid)
}

// String renders the record in zone file order, for diagnostics.
func (r *Record) String() string {
	return fmt.Sprintf("%s\t%d\t%s\t%s\t%q flush=%t valid=%t",
		r.Name, r.TTL, classString(r.Class), typeString(r.Type), r.Data, r.CacheFlush, r.Valid)
}

// typeString names a record type, falling back to the RFC 3597 form.
func typeString(t uint16) string {
	if s, ok := dns.TypeToString[t]; ok {
		return s
	}
	return fmt.Sprintf("TYPE%d", t)
}

// classString names a record class, falling back to the RFC 3597 form.
func classString(c uint16) string {
	if s, ok := dns.ClassToString[c]; ok {
		return s
	}
	return fmt.Sprintf("CLASS%d", c)
}

// AddQuery appends a question to the outgoing packet. Questions must come
// before any other record.
func (s *Session) AddQuery(q Query) error {
	if s.hdr.ANCount > 0 || s.hdr.NSCount > 0 || s.hdr.ARCount > 0 {
		s.log.Warnf("mdns: resource records included before queries")
		return ErrOutOfOrder
	}

	start := s.pos
	if err := s.encodeName(q.Name); err != nil {
		s.log.Warnf("mdns: AddQuery %q: %v", q.Name, err)
		return err
	}
	class := q.Class & classMask
	if q.UnicastResponse {
		class |= qClassCacheFlush
	}
	if !s.put16(q.Type) || !s.put16(class) {
		s.pos = start
		s.log.Warnf("mdns: AddQuery %q overruns the buffer", q.Name)
		return ErrBufferFull
	}

	// Everything fitted, so the header can be updated.
	s.hdr.Response = false
	s.hdr.Authoritative = false
	s.hdr.QDCount++
	s.commit()
	return nil
}

// AddAnswer appends a record to the answer section. It fails once authority
// or additional records have been added.
func (s *Session) AddAnswer(rec Record) error {
	if s.hdr.NSCount > 0 || s.hdr.ARCount > 0 {
		s.log.Warnf("mdns: authority or additional records added before answer records")
		return ErrOutOfOrder
	}
	if err := s.encodeRecord(&rec); err != nil {
		return err
	}
	s.hdr.ANCount++
	s.markResponse()
	return nil
}

// AddAuthority appends a record to the authority section, where RFC 6762
// section 8.2 places the proposed records of a uniqueness check.
// It fails once additional records have been added.
func (s *Session) AddAuthority(rec Record) error {
	if s.hdr.ARCount > 0 {
		s.log.Warnf("mdns: additional records added before authority records")
		return ErrOutOfOrder
	}
	if err := s.encodeRecord(&rec); err != nil {
		return err
	}
	s.hdr.NSCount++
	s.commit()
	return nil
}

// AddAdditional appends a record to the additional section.
func (s *Session) AddAdditional(rec Record) error {
	if err := s.encodeRecord(&rec); err != nil {
		return err
	}
	s.hdr.ARCount++
	s.commit()
	return nil
}

// markResponse flags the packet as an authoritative response and publishes
// what was written so far.
func (s *Session) markResponse() {
	s.hdr.Response = true
	s.hdr.Authoritative = true
	s.commit()
}

// encodeRecord writes rec at the cursor. The RDATA length is back-filled once
// the type specific data has been written. On failure the cursor is restored.
func (s *Session) encodeRecord(rec *Record) error {
	switch rec.Type {
	case TypeA:
		if !rec.Addr.Is4() {
			return fmt.Errorf("%w: A record %q without IPv4 address", ErrInvalidRecord, rec.Name)
		}
	case TypePTR, TypeSRV:
	default:
		s.log.Warnf("mdns: sending %s records is not implemented", typeString(rec.Type))
		return fmt.Errorf("%w: %s", ErrUnsupportedType, typeString(rec.Type))
	}

	start := s.pos
	fail := func(err error) error {
		s.pos = start
		s.log.Warnf("mdns: adding %s record %q: %v", typeString(rec.Type), rec.Name, err)
		return err
	}

	if err := s.encodeName(rec.Name); err != nil {
		return fail(err)
	}
	class := rec.Class & classMask
	if rec.CacheFlush {
		class |= qClassCacheFlush
	}
	if !s.put16(rec.Type) || !s.put16(class) || !s.put32(rec.TTL) {
		return fail(ErrBufferFull)
	}
	lenAt := s.pos
	if !s.put16(0) {
		return fail(ErrBufferFull)
	}

	switch rec.Type {
	case TypeA:
		a := rec.Addr.As4()
		if !s.putBytes(a[:]) {
			return fail(ErrBufferFull)
		}
	case TypePTR:
		if err := s.encodeName(rec.Target); err != nil {
			return fail(err)
		}
	case TypeSRV:
		if !s.put16(rec.Priority) || !s.put16(rec.Weight) || !s.put16(rec.Port) {
			return fail(ErrBufferFull)
		}
		if err := s.encodeName(rec.Target); err != nil {
			return fail(err)
		}
	}

	binary.BigEndian.PutUint16(s.buf[lenAt:], uint16(s.pos-lenAt-2))
	return nil
}

// reader walks a received message. Every read is checked against the
// message length.
type reader struct {
	msg []byte
	off int
}

// u16 reads a big-endian uint16 at the cursor.
func (r *reader) u16() (uint16, error) {
	if r.off+2 > len(r.msg) {
		return 0, ErrOverrun
	}
	v := binary.BigEndian.Uint16(r.msg[r.off:])
	r.off += 2
	return v, nil
}

// u32 reads a big-endian uint32 at the cursor.
func (r *reader) u32() (uint32, error) {
	if r.off+4 > len(r.msg) {
		return 0, ErrOverrun
	}
	v := binary.BigEndian.Uint32(r.msg[r.off:])
	r.off += 4
	return v, nil
}

// name decodes a possibly compressed name at the cursor and moves past it.
func (r *reader) name() (string, bool, error) {
	name, next, truncated, err := decodeName(r.msg, r.off)
	if err != nil {
		return "", false, err
	}
	r.off = next
	return name, truncated, nil
}

// decodeHeader parses the fixed header. Messages carrying a nonzero response
// code are rejected.
func decodeHeader(msg []byte) (Header, error) {
	if len(msg) < headerLen {
		return Header{}, ErrShortMessage
	}
	h := Header{
		ID:            binary.BigEndian.Uint16(msg[0:]),
		Response:      msg[2]&flagResponse != 0,
		Authoritative: msg[2]&flagAuthoritative != 0,
		Truncated:     msg[2]&flagTruncated != 0,
		Rcode:         msg[3] & rcodeMask,
		QDCount:       binary.BigEndian.Uint16(msg[4:]),
		ANCount:       binary.BigEndian.Uint16(msg[6:]),
		NSCount:       binary.BigEndian.Uint16(msg[8:]),
		ARCount:       binary.BigEndian.Uint16(msg[10:]),
	}
	if h.Rcode != 0 {
		return h, fmt.Errorf("%w: %d", ErrResponseCode, h.Rcode)
	}
	return h, nil
}

// encodeHeader writes h into the first headerLen bytes of buf.
func encodeHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint16(buf[0:], h.ID)
	var flags byte
	if h.Response {
		flags |= flagResponse
	}
	if h.Authoritative {
		flags |= flagAuthoritative
	}
	if h.Truncated {
		flags |= flagTruncated
	}
	buf[2] = flags
	buf[3] = h.Rcode & rcodeMask
	binary.BigEndian.PutUint16(buf[4:], h.QDCount)
	binary.BigEndian.PutUint16(buf[6:], h.ANCount)
	binary.BigEndian.PutUint16(buf[8:], h.NSCount)
	binary.BigEndian.PutUint16(buf[10:], h.ARCount)
}

// decodeQuery reads one question. An error means the reader position can no
// longer be trusted and the rest of the packet must be dropped.
func decodeQuery(r *reader) (Query, error) {
	q := Query{Offset: r.off}

	name, truncated, err := r.name()
	if err != nil {
		return q, err
	}
	q.Name, q.Truncated = name, truncated

	if q.Type, err = r.u16(); err != nil {
		return q, err
	}
	class, err := r.u16()
	if err != nil {
		return q, err
	}
	q.UnicastResponse = class&qClassCacheFlush != 0
	q.Class = class & classMask
	q.Valid = q.Class == ClassIN || q.Class == ClassANY
	return q, nil
}

// decodeRecord reads one resource record. An error means the reader position
// can no longer be trusted. Bad RDATA inside a correctly sized record only
// marks the record invalid, since the next record starts right after it.
func decodeRecord(r *reader) (Record, error) {
	rec := Record{Offset: r.off}

	name, truncated, err := r.name()
	if err != nil {
		return rec, err
	}
	rec.Name, rec.Truncated = name, truncated

	if rec.Type, err = r.u16(); err != nil {
		return rec, err
	}
	class, err := r.u16()
	if err != nil {
		return rec, err
	}
	rec.CacheFlush = class&qClassCacheFlush != 0
	rec.Class = class & classMask
	if rec.TTL, err = r.u32(); err != nil {
		return rec, err
	}
	rdlen, err := r.u16()
	if err != nil {
		return rec, err
	}

	start, end := r.off, r.off+int(rdlen)
	if end > len(r.msg) {
		return rec, ErrOverrun
	}
	rec.Valid = rec.decodeData(r.msg, start, end)
	r.off = end
	return rec, nil
}

// decodeData renders the RDATA in msg[start:end] according to the record type.
// Names inside the RDATA may point anywhere earlier in msg.
func (rec *Record) decodeData(msg []byte, start, end int) bool {
	rd := msg[start:end]
	var clipped bool

	switch rec.Type {
	case TypeA:
		if len(rd) < 4 {
			return false
		}
		rec.Addr = netip.AddrFrom4([4]byte(rd[:4]))
		rec.Data = rec.Addr.String()

	case TypePTR:
		target, next, truncated, err := decodeName(msg, start)
		if err != nil || next > end {
			return false
		}
		rec.Target = target
		rec.Data = target
		clipped = truncated

	case TypeHINFO, TypeTXT:
		rec.Data, clipped = clip(string(rd))

	case TypeAAAA:
		if len(rd) == 16 {
			rec.Addr = netip.AddrFrom16([16]byte(rd))
		}
		rec.Data, clipped = clip(hexPairs(rd, ':'))

	case TypeSRV:
		if len(rd) < 6 {
			return false
		}
		rec.Priority = binary.BigEndian.Uint16(rd[0:])
		rec.Weight = binary.BigEndian.Uint16(rd[2:])
		rec.Port = binary.BigEndian.Uint16(rd[4:])
		target, next, truncated, err := decodeName(msg, start+6)
		if err != nil || next > end {
			return false
		}
		rec.Target = target
		rec.Data, clipped = clip(fmt.Sprintf("p=%d;w=%d;port=%d;host=%s",
			rec.Priority, rec.Weight, rec.Port, target))
		clipped = clipped || truncated

	default:
		rec.Data, clipped = clip(hexPairs(rd, ' '))
	}

	rec.Truncated = rec.Truncated || clipped
	return true
}

// clip limits s to the capacity of a text field.
func clip(s string) (string, bool) {
	if len(s) > maxTextLen {
		return s[:maxTextLen], true
	}
	return s, false
}

// hexPairs renders b as upper-case hex byte pairs joined by sep.
func hexPairs(b []byte, sep byte) string {
	const digits = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(sep)
		}
		sb.WriteByte(digits[c>>4])
		sb.WriteByte(digits[c&0x0F])
	}
	return sb.String()
}
