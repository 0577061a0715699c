package mdns

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestAnnounceHost(t *testing.T) {
	s, ft := newTestSession(t)
	require.NoError(t, s.AnnounceHost("myhost.local.", netip.MustParseAddr("10.0.0.7"), DefaultTTL))

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(ft.sent[0].data))
	require.True(t, m.Response)
	require.True(t, m.Authoritative)
	require.Len(t, m.Answer, 1)
	a := m.Answer[0].(*dns.A)
	require.Equal(t, "myhost.local.", a.Hdr.Name)
	require.Equal(t, uint32(DefaultTTL), a.Hdr.Ttl)
	require.Equal(t, dns.ClassINET|qClassCacheFlush, a.Hdr.Class)
	require.Equal(t, "10.0.0.7", a.A.String())

	require.ErrorIs(t, s.AnnounceHost("myhost.local", netip.MustParseAddr("fe80::1"), DefaultTTL), ErrInvalidRecord)
}

func TestAnnounceService(t *testing.T) {
	ann := ServiceAnnouncement{
		Instance: "X",
		Service:  "_svc._tcp",
		Host:     "host.local",
		Port:     1883,
		Addrs:    []netip.Addr{netip.MustParseAddr("10.0.0.5")},
		TTL:      4500,
	}
	require.Equal(t, "_svc._tcp.local", ann.ServiceName())
	require.Equal(t, "X._svc._tcp.local", ann.InstanceName())
	require.Equal(t, "_services._dns-sd._udp.local", ann.ServiceTypeName())

	s, ft := newTestSession(t)
	require.NoError(t, s.AnnounceService(ann))

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(ft.sent[0].data))
	require.Len(t, m.Answer, 2)
	require.Equal(t, "X._svc._tcp.local.", m.Answer[0].(*dns.PTR).Ptr)
	require.Equal(t, "_svc._tcp.local.", m.Answer[1].(*dns.PTR).Ptr)
	require.Len(t, m.Extra, 2)
	srv := m.Extra[0].(*dns.SRV)
	require.Equal(t, uint16(1883), srv.Port)
	require.Equal(t, "host.local.", srv.Target)
	require.Equal(t, uint32(4500), srv.Hdr.Ttl)
	a := m.Extra[1].(*dns.A)
	require.Equal(t, uint32(addrTTL), a.Hdr.Ttl)
}

func TestAnnounceServiceGoodbye(t *testing.T) {
	s, ft := newTestSession(t)
	require.NoError(t, s.AnnounceService(ServiceAnnouncement{
		Instance: "X",
		Service:  "_svc._tcp",
		Domain:   "local.",
		Host:     "host.local",
		Port:     1883,
		Addrs:    []netip.Addr{netip.MustParseAddr("10.0.0.5")},
	}))

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(ft.sent[0].data))
	for _, rr := range append(m.Answer, m.Extra...) {
		require.Zero(t, rr.Header().Ttl, rr.String())
	}
}

func TestAnnounceServiceValidation(t *testing.T) {
	s, ft := newTestSession(t)
	err := s.AnnounceService(ServiceAnnouncement{Service: "_svc._tcp", Host: "host.local"})
	require.ErrorIs(t, err, ErrInvalidRecord)
	require.Empty(t, ft.sent)
}

// An announcement is resolvable by a client on the same segment.
func TestAnnounceServiceResolves(t *testing.T) {
	announcer, ft := newTestSession(t)
	require.NoError(t, announcer.AnnounceService(ServiceAnnouncement{
		Instance: "X",
		Service:  "_svc._tcp",
		Host:     "host.local",
		Port:     1883,
		Addrs:    []netip.Addr{netip.MustParseAddr("10.0.0.5")},
		TTL:      DefaultTTL,
	}))

	c, _, cft := newTestClient(t)
	cft.inbox = append(cft.inbox, ft.sent[0].data)

	hosts, err := c.LookupService(context.Background(), "_svc._tcp.local", time.Second)
	require.NoError(t, err)
	require.Equal(t, []ResolvedHost{{
		Service: "X._svc._tcp.local",
		Host:    "host.local",
		Port:    1883,
		Addr:    netip.MustParseAddr("10.0.0.5"),
	}}, hosts)
}
