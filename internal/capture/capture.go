// Package capture records the queries and records seen on a session to a
// CBOR stream, and reads such streams back.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	mdns "github.com/elum-utils/minimdns"
)

// Kind tells whether an entry came from the question or a record section.
type Kind uint8

const (
	// KindQuery is a question.
	KindQuery Kind = iota + 1
	// KindRecord is an answer, authority or additional record.
	KindRecord
)

// String returns the kind name used in dumps.
func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Entry is one captured query or record. Integer keys keep files compact.
type Entry struct {
	Time       time.Time `cbor:"1,keyasint"`
	Source     string    `cbor:"2,keyasint,omitempty"`
	Kind       Kind      `cbor:"3,keyasint"`
	Name       string    `cbor:"4,keyasint"`
	Type       uint16    `cbor:"5,keyasint"`
	Class      uint16    `cbor:"6,keyasint"`
	Flag       bool      `cbor:"7,keyasint,omitempty"` // unicast-response or cache-flush bit
	TTL        uint32    `cbor:"8,keyasint,omitempty"`
	Data       string    `cbor:"9,keyasint,omitempty"`
	Truncated  bool      `cbor:"10,keyasint,omitempty"`
	PacketSize int       `cbor:"11,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

// init builds the shared CBOR modes. Entries are encoded canonically.
func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR decoder mode: %v", err))
	}
}

// Writer is a session handler that appends every valid query and record to
// a CBOR stream. Encoding errors do not interrupt the session; the first one
// is kept and reported by Err.
type Writer struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	now     func() time.Time
	source  string
	size    int
	count   int
	err     error
	forward mdns.Handler
}

var _ mdns.Handler = (*Writer)(nil)

// NewWriter creates a Writer encoding to w. When forward is not nil every
// callback is passed on to it after the entry was written.
func NewWriter(w io.Writer, forward mdns.Handler) *Writer {
	return &Writer{
		enc:     encMode.NewEncoder(w),
		now:     time.Now,
		forward: forward,
	}
}

// OnPacket remembers the source and size of the packet being decoded. They
// are stamped on every entry written for it.
func (w *Writer) OnPacket(s *mdns.Session) {
	w.mu.Lock()
	w.source = ""
	if addr := s.RemoteAddr(); addr != nil {
		w.source = addr.String()
	}
	w.size = s.Len()
	w.mu.Unlock()

	if w.forward != nil {
		w.forward.OnPacket(s)
	}
}

// OnQuery writes q as a KindQuery entry. The unicast-response bit is stored
// in Flag.
func (w *Writer) OnQuery(q *mdns.Query) {
	w.write(Entry{
		Kind:      KindQuery,
		Name:      q.Name,
		Type:      q.Type,
		Class:     q.Class,
		Flag:      q.UnicastResponse,
		Truncated: q.Truncated,
	})
	if w.forward != nil {
		w.forward.OnQuery(q)
	}
}

// OnAnswer writes rec as a KindRecord entry. The cache-flush bit is stored
// in Flag and the rendered RDATA in Data.
func (w *Writer) OnAnswer(rec *mdns.Record) {
	w.write(Entry{
		Kind:      KindRecord,
		Name:      rec.Name,
		Type:      rec.Type,
		Class:     rec.Class,
		Flag:      rec.CacheFlush,
		TTL:       rec.TTL,
		Data:      rec.Data,
		Truncated: rec.Truncated,
	})
	if w.forward != nil {
		w.forward.OnAnswer(rec)
	}
}

// write stamps e with the time and packet details and encodes it. Nothing
// more is written once an encoding error was seen.
func (w *Writer) write(e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return
	}
	e.Time = w.now()
	e.Source = w.source
	e.PacketSize = w.size
	if err := w.enc.Encode(e); err != nil {
		w.err = err
		return
	}
	w.count++
}

// Count returns the number of entries written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Err returns the first encoding error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Reader decodes entries written by a Writer.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a Reader decoding from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: decMode.NewDecoder(r)}
}

// Next returns the next entry, or io.EOF at the end of the stream.
func (r *Reader) Next() (Entry, error) {
	var e Entry
	if err := r.dec.Decode(&e); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("capture: %w", err)
	}
	return e, nil
}

// ReadAll decodes every entry in r.
func ReadAll(r io.Reader) ([]Entry, error) {
	var entries []Entry
	rd := NewReader(r)
	for {
		e, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}
