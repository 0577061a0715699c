package mdns

import (
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestEncodeNameRoundTrip(t *testing.T) {
	names := []string{
		"local",
		"host.local",
		"X._svc._tcp.local",
		"_services._dns-sd._udp.local",
		strings.Repeat("a", maxLabelLen) + ".local",
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			s, _ := newTestSession(t)
			require.NoError(t, s.encodeName(name))

			got, next, truncated, err := decodeName(s.buf[:s.pos], headerLen)
			require.NoError(t, err)
			require.Equal(t, name, got)
			require.Equal(t, s.pos, next)
			require.False(t, truncated)

			// The wire form matches what miekg/dns produces.
			want := make([]byte, 256)
			n, err := dns.PackDomainName(dns.Fqdn(name), want, 0, nil, false)
			require.NoError(t, err)
			require.Equal(t, want[:n], s.buf[headerLen:s.pos])
		})
	}
}

func TestEncodeNameTrailingDot(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.encodeName("host.local."))
	got, _, _, err := decodeName(s.buf[:s.pos], headerLen)
	require.NoError(t, err)
	require.Equal(t, "host.local", got)
}

func TestEncodeNameRoot(t *testing.T) {
	for _, name := range []string{"", "."} {
		s, _ := newTestSession(t)
		require.NoError(t, s.encodeName(name))
		require.Equal(t, []byte{0}, s.buf[headerLen:s.pos])
	}
}

func TestEncodeNameErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		size    int
		wantErr error
	}{
		{name: "LongLabel", input: strings.Repeat("a", maxLabelLen+1) + ".local", size: MaxPacketSize, wantErr: ErrInvalidName},
		{name: "EmptyLabel", input: "a..local", size: MaxPacketSize, wantErr: ErrInvalidName},
		{name: "LeadingDot", input: ".local", size: MaxPacketSize, wantErr: ErrInvalidName},
		{name: "NoRoomForLabel", input: "host.local", size: headerLen + 3, wantErr: ErrBufferFull},
		{name: "NoRoomForRoot", input: "host", size: headerLen + 5, wantErr: ErrBufferFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSession(t, WithMaxPacketSize(tt.size))
			err := s.encodeName(tt.input)
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, headerLen, s.pos)
		})
	}
}

func TestDecodeNamePointer(t *testing.T) {
	// "foo" at offset 2, then a label "bar" followed by a pointer to it.
	msg := []byte{
		0xFF, 0xFF,
		3, 'f', 'o', 'o', 0,
		3, 'b', 'a', 'r', 0xC0, 2,
		0xC0, 2,
	}

	direct, next, _, err := decodeName(msg, 2)
	require.NoError(t, err)
	require.Equal(t, "foo", direct)
	require.Equal(t, 7, next)

	viaPtr, next, _, err := decodeName(msg, 13)
	require.NoError(t, err)
	require.Equal(t, direct, viaPtr)
	require.Equal(t, 15, next)

	suffix, next, _, err := decodeName(msg, 7)
	require.NoError(t, err)
	require.Equal(t, "bar.foo", suffix)
	require.Equal(t, 13, next)
}

func TestDecodeNameCompressedByMiekg(t *testing.T) {
	m := responseMsg(
		&dns.PTR{Hdr: rrHeader("_svc._tcp.local", dns.TypePTR, 120), Ptr: "X._svc._tcp.local."},
		&dns.PTR{Hdr: rrHeader("_svc._tcp.local", dns.TypePTR, 120), Ptr: "Y._svc._tcp.local."},
	)
	data, err := m.Pack()
	require.NoError(t, err)

	r := &reader{msg: data, off: headerLen}
	for _, want := range []string{"X._svc._tcp.local", "Y._svc._tcp.local"} {
		rec, err := decodeRecord(r)
		require.NoError(t, err)
		require.True(t, rec.Valid)
		require.Equal(t, "_svc._tcp.local", rec.Name)
		require.Equal(t, want, rec.Target)
	}
	require.Equal(t, len(data), r.off)
}

func TestDecodeNameErrors(t *testing.T) {
	tests := []struct {
		name    string
		msg     []byte
		off     int
		wantErr error
	}{
		{name: "SelfPointer", msg: []byte{0, 0, 0xC0, 2}, off: 2, wantErr: ErrPointerLoop},
		{name: "ForwardPointer", msg: []byte{0xC0, 2, 3, 'f', 'o', 'o', 0}, off: 0, wantErr: ErrPointerLoop},
		{name: "PointerIntoPointer", msg: []byte{0xC0, 2, 0xC0, 0}, off: 2, wantErr: ErrPointerLoop},
		{name: "ReservedLabel40", msg: []byte{0x40, 'a', 0}, off: 0, wantErr: ErrInvalidName},
		{name: "ReservedLabel80", msg: []byte{0x80, 'a', 0}, off: 0, wantErr: ErrInvalidName},
		{name: "LabelPastEnd", msg: []byte{5, 'a', 'b'}, off: 0, wantErr: ErrOverrun},
		{name: "MissingRoot", msg: []byte{1, 'a'}, off: 0, wantErr: ErrOverrun},
		{name: "HalfPointer", msg: []byte{0, 0xC0}, off: 1, wantErr: ErrOverrun},
		{name: "OffsetPastEnd", msg: []byte{0}, off: 4, wantErr: ErrOverrun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := decodeName(tt.msg, tt.off)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeNameClipsLongNames(t *testing.T) {
	var msg []byte
	var labels []string
	for i := 0; i < 5; i++ {
		label := strings.Repeat(string(rune('a'+i)), maxLabelLen)
		labels = append(labels, label)
		msg = append(msg, maxLabelLen)
		msg = append(msg, label...)
	}
	msg = append(msg, 0)

	got, next, truncated, err := decodeName(msg, 0)
	require.NoError(t, err)
	require.True(t, truncated)
	require.Len(t, got, maxTextLen)
	require.Equal(t, strings.Join(labels, ".")[:maxTextLen], got)
	require.Equal(t, len(msg), next)
}
