package mdns

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/pion/logging"
)

// State tracks where a session is in its build/send/receive cycle.
type State int

// Session states.
const (
	// StateIdle is the state after Clear: an empty header and nothing to send.
	StateIdle State = iota
	// StateBuilt means at least one query or record was added.
	StateBuilt
	// StateSent means the built packet was handed to the transport.
	StateSent
	// StateReceived means the buffer holds the last datagram read by Poll.
	StateReceived
)

// String returns the lower-case state name.
func (st State) String() string {
	switch st {
	case StateIdle:
		return "idle"
	case StateBuilt:
		return "built"
	case StateSent:
		return "sent"
	case StateReceived:
		return "received"
	default:
		return fmt.Sprintf("State(%d)", int(st))
	}
}

// Handler receives the contents of every packet read by Poll. Only one handler
// is registered on a session at a time.
//
// The Query and Record values are only valid for the duration of the call.
type Handler interface {
	// OnPacket is called once per packet after its header was accepted.
	OnPacket(s *Session)
	// OnQuery is called for every valid question, in packet order.
	OnQuery(q *Query)
	// OnAnswer is called for every valid answer, authority and additional
	// record, in packet order.
	OnAnswer(rec *Record)
}

// NopHandler ignores everything. Embed it to implement only part of Handler.
type NopHandler struct{}

// OnPacket does nothing.
func (NopHandler) OnPacket(*Session) {}

// OnQuery does nothing.
func (NopHandler) OnQuery(*Query) {}

// OnAnswer does nothing.
func (NopHandler) OnAnswer(*Record) {}

var _ Handler = NopHandler{}

// Stats are the packet counters kept by a session.
type Stats struct {
	// PacketCount is the number of datagrams read by Poll.
	PacketCount int
	// LargestPacket is the size of the largest datagram seen, before truncation.
	LargestPacket int
	// Oversized counts datagrams that did not fit the session buffer.
	Oversized int
}

// sessionOpts holds configuration options for a session.
type sessionOpts struct {
	buf        []byte
	size       int
	log        logging.LeveledLogger
	packetDump bool
}

// SessionOption defines a function type for configuring a session.
type SessionOption func(*sessionOpts)

// WithBuffer makes the session use buf for both outgoing and incoming
// packets. It takes precedence over WithMaxPacketSize.
func WithBuffer(buf []byte) SessionOption {
	return func(o *sessionOpts) {
		o.buf = buf
	}
}

// WithMaxPacketSize sets the size of the buffer allocated by the session.
func WithMaxPacketSize(n int) SessionOption {
	return func(o *sessionOpts) {
		o.size = n
	}
}

// WithLogger sets the sink for session diagnostics.
func WithLogger(log logging.LeveledLogger) SessionOption {
	return func(o *sessionOpts) {
		o.log = log
	}
}

// WithPacketDump writes a hex dump of every received packet at trace level.
func WithPacketDump() SessionOption {
	return func(o *sessionOpts) {
		o.packetDump = true
	}
}

// Session owns one packet buffer and a transport. The same buffer is used to
// build outgoing packets and to hold the last received one, so building and
// polling must not be interleaved. A Session is not safe for concurrent use.
type Session struct {
	t       Transport
	buf     []byte
	size    int
	pos     int
	hdr     Header
	state   State
	handler Handler
	log     logging.LeveledLogger
	dump    bool
	stats   Stats
	remote  net.Addr
}

// NewSession creates a session sending and receiving through t.
func NewSession(t Transport, options ...SessionOption) (*Session, error) {
	var conf = sessionOpts{
		size: MaxPacketSize,
	}
	for _, o := range options {
		if o != nil {
			o(&conf)
		}
	}

	if t == nil {
		return nil, errors.New("mdns: session needs a transport")
	}
	buf := conf.buf
	if buf == nil {
		if conf.size < 0 {
			conf.size = 0
		}
		buf = make([]byte, conf.size)
	}
	if len(buf) < headerLen {
		return nil, fmt.Errorf("mdns: session buffer of %d bytes cannot hold a %d byte header", len(buf), headerLen)
	}
	log := conf.log
	if log == nil {
		log = discardLogger()
	}

	s := &Session{
		t:    t,
		buf:  buf,
		log:  log,
		dump: conf.packetDump,
	}
	s.Clear()
	return s, nil
}

// Clear empties the buffer and resets the header, ready for a new packet.
func (s *Session) Clear() {
	s.hdr = Header{}
	encodeHeader(s.buf, s.hdr)
	s.size = headerLen
	s.pos = headerLen
	s.state = StateIdle
}

// Send multicasts the current packet to the mDNS group. It may be repeated.
func (s *Session) Send() error {
	return s.send(ipv4Addr)
}

// SendUnicast sends the current packet to addr on the mDNS port.
func (s *Session) SendUnicast(addr netip.Addr) error {
	if !addr.IsValid() {
		return errors.New("mdns: invalid unicast address")
	}
	return s.send(net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr.Unmap(), Port)))
}

// send hands the current packet to the transport.
func (s *Session) send(dst net.Addr) error {
	s.log.Debugf("mdns: sending %d bytes to %v (qd=%d an=%d ns=%d ar=%d)",
		s.size, dst, s.hdr.QDCount, s.hdr.ANCount, s.hdr.NSCount, s.hdr.ARCount)
	if err := s.t.Send(s.Bytes(), dst); err != nil {
		return fmt.Errorf("mdns: send to %v: %w", dst, err)
	}
	s.state = StateSent
	return nil
}

// Poll performs one receive step. It reports false when no datagram was
// waiting. Otherwise the datagram is decoded and dispatched to the handler,
// and the first error that stopped decoding is returned. A decode error only
// affects the packet it came from.
func (s *Session) Poll() (bool, error) {
	data, src, err := s.t.Poll()
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}

	s.remote = src
	s.stats.PacketCount++
	if len(data) > s.stats.LargestPacket {
		s.stats.LargestPacket = len(data)
	}
	n := copy(s.buf, data)
	if n < len(data) {
		s.stats.Oversized++
		s.log.Debugf("mdns: packet from %v truncated from %d to %d bytes", src, len(data), n)
	}
	s.size = n
	s.pos = min(n, headerLen)
	s.state = StateReceived

	if err := s.parse(); err != nil {
		s.log.Debugf("mdns: dropping rest of packet from %v: %v", src, err)
		return true, err
	}
	return true, nil
}

// parse decodes the packet held in the buffer and feeds the handler.
func (s *Session) parse() error {
	msg := s.buf[:s.size]
	if s.dump {
		s.log.Tracef("mdns: raw packet from %v\n%s", s.remote, hex.Dump(msg))
	}

	h, err := decodeHeader(msg)
	s.hdr = h
	if err != nil {
		return err
	}
	s.log.Debugf("mdns: packet from %v: id=%d response=%t qd=%d an=%d ns=%d ar=%d",
		s.remote, h.ID, h.Response, h.QDCount, h.ANCount, h.NSCount, h.ARCount)
	if s.handler != nil {
		s.handler.OnPacket(s)
	}

	r := &reader{msg: msg, off: headerLen}
	defer func() { s.pos = r.off }()

	for i := 0; i < int(h.QDCount); i++ {
		q, err := decodeQuery(r)
		if err != nil {
			return fmt.Errorf("query %d at offset %d: %w", i, q.Offset, err)
		}
		s.log.Tracef("mdns: query %v", &q)
		if q.Valid && s.handler != nil {
			s.handler.OnQuery(&q)
		}
	}

	records := int(h.ANCount) + int(h.NSCount) + int(h.ARCount)
	for i := 0; i < records; i++ {
		rec, err := decodeRecord(r)
		if err != nil {
			return fmt.Errorf("record %d at offset %d: %w", i, rec.Offset, err)
		}
		s.log.Tracef("mdns: record %v", &rec)
		if rec.Valid && s.handler != nil {
			s.handler.OnAnswer(&rec)
		}
	}
	return nil
}

// SetHandler registers h for the packets read by Poll. A nil handler turns
// dispatching off.
func (s *Session) SetHandler(h Handler) {
	s.handler = h
}

// Handler returns the registered handler, or nil.
func (s *Session) Handler() Handler {
	return s.handler
}

// Header returns the header of the packet being built or last received.
func (s *Session) Header() Header {
	return s.hdr
}

// IsQuery reports whether the current packet is a query.
func (s *Session) IsQuery() bool {
	return !s.hdr.Response
}

// Len returns the logical size of the current packet.
func (s *Session) Len() int {
	return s.size
}

// Bytes returns the current packet. The slice aliases the session buffer.
func (s *Session) Bytes() []byte {
	return s.buf[:s.size]
}

// RemoteAddr returns the source of the last received packet.
func (s *Session) RemoteAddr() net.Addr {
	return s.remote
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state
}

// Stats returns the packet counters.
func (s *Session) Stats() Stats {
	return s.stats
}

// Close closes the underlying transport.
func (s *Session) Close() error {
	return s.t.Close()
}

// commit publishes the bytes written so far as the packet contents.
func (s *Session) commit() {
	s.size = s.pos
	encodeHeader(s.buf, s.hdr)
	s.state = StateBuilt
}

// put8, put16, put32 and putBytes write at the cursor and advance it. They
// report false, writing nothing, when the buffer has no room left.
func (s *Session) put8(v byte) bool {
	if s.pos+1 > len(s.buf) {
		return false
	}
	s.buf[s.pos] = v
	s.pos++
	return true
}

func (s *Session) put16(v uint16) bool {
	if s.pos+2 > len(s.buf) {
		return false
	}
	binary.BigEndian.PutUint16(s.buf[s.pos:], v)
	s.pos += 2
	return true
}

func (s *Session) put32(v uint32) bool {
	if s.pos+4 > len(s.buf) {
		return false
	}
	binary.BigEndian.PutUint32(s.buf[s.pos:], v)
	s.pos += 4
	return true
}

func (s *Session) putBytes(b []byte) bool {
	if s.pos+len(b) > len(s.buf) {
		return false
	}
	s.pos += copy(s.buf[s.pos:], b)
	return true
}
