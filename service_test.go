package mdns

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHostTableAddService(t *testing.T) {
	tbl := newHostTable(2)

	_, ok := tbl.addService("")
	require.False(t, ok)

	i, ok := tbl.addService("A._svc._tcp.local")
	require.True(t, ok)
	require.Zero(t, i)

	i, ok = tbl.addService("A._svc._tcp.local")
	require.True(t, ok)
	require.Zero(t, i)

	i, ok = tbl.addService("B._svc._tcp.local")
	require.True(t, ok)
	require.Equal(t, 1, i)

	_, ok = tbl.addService("C._svc._tcp.local")
	require.False(t, ok)
	require.Len(t, tbl.snapshot(), 2)
}

func TestHostTableSetAddr(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.5")

	tests := []struct {
		name    string
		host    string
		found   bool
		pending bool
	}{
		{name: "RootName", host: "", found: false, pending: false},
		{name: "UnknownHost", host: "other.local", found: false, pending: true},
		{name: "KnownHost", host: "host.local", found: true, pending: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := newHostTable(4)
			tbl.addService("X._svc._tcp.local")
			tbl.addService("Y._svc._tcp.local")
			require.True(t, tbl.setTarget("X._svc._tcp.local", "host.local", 1883))

			require.Equal(t, tt.found, tbl.setAddr(tt.host, addr))
			_, ok := tbl.pending[tt.host]
			require.Equal(t, tt.pending, ok)

			rows := tbl.snapshot()
			require.Equal(t, tt.found, rows[0].Addr.IsValid())
			require.False(t, rows[1].Addr.IsValid())
		})
	}
}

func TestHostTableSetTargetChangesHost(t *testing.T) {
	tbl := newHostTable(4)
	tbl.addService("X._svc._tcp.local")

	require.False(t, tbl.setTarget("X._svc._tcp.local", "", 1883))
	require.False(t, tbl.setTarget("Y._svc._tcp.local", "host.local", 1883))

	require.True(t, tbl.setTarget("X._svc._tcp.local", "old.local", 1883))
	tbl.setAddr("old.local", netip.MustParseAddr("10.0.0.1"))
	tbl.setAddr("new.local", netip.MustParseAddr("10.0.0.2"))
	require.Equal(t, netip.MustParseAddr("10.0.0.1"), tbl.complete()[0].Addr)

	// same host keeps the address
	require.True(t, tbl.setTarget("X._svc._tcp.local", "old.local", 1884))
	require.Equal(t, netip.MustParseAddr("10.0.0.1"), tbl.snapshot()[0].Addr)

	// a new host takes the address seen for it
	require.True(t, tbl.setTarget("X._svc._tcp.local", "new.local", 1884))
	require.Equal(t, netip.MustParseAddr("10.0.0.2"), tbl.snapshot()[0].Addr)

	// and none when nothing was seen
	require.True(t, tbl.setTarget("X._svc._tcp.local", "gone.local", 1884))
	require.False(t, tbl.snapshot()[0].Addr.IsValid())
	require.Empty(t, tbl.complete())
}
