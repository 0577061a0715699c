package mdns

import (
	"fmt"
	"net/netip"
)

// addrTTL is the TTL for address records (RFC 6762 section 10).
const addrTTL = 120

// ServiceAnnouncement describes a service instance to announce.
type ServiceAnnouncement struct {
	Instance string       // Instance name (e.g. "printer")
	Service  string       // Service name (e.g. "_ipp._tcp")
	Domain   string       // If blank, assumes "local"
	Host     string       // Host name the SRV record points to
	Port     uint16       // Service port
	Addrs    []netip.Addr // IPv4 addresses of Host
	TTL      uint32       // Zero announces that the service is going away
}

// ServiceName returns the full service type name (e.g. _ipp._tcp.local).
func (a *ServiceAnnouncement) ServiceName() string {
	domain := "local"
	if trimDot(a.Domain) != "" {
		domain = trimDot(a.Domain)
	}
	return fmt.Sprintf("%s.%s", trimDot(a.Service), domain)
}

// InstanceName returns the full service instance name.
func (a *ServiceAnnouncement) InstanceName() string {
	return fmt.Sprintf("%s.%s", trimDot(a.Instance), a.ServiceName())
}

// ServiceTypeName returns the DNS-SD service type enumeration name.
func (a *ServiceAnnouncement) ServiceTypeName() string {
	domain := "local"
	if trimDot(a.Domain) != "" {
		domain = trimDot(a.Domain)
	}
	return fmt.Sprintf("_services._dns-sd._udp.%s", domain)
}

// AnnounceHost multicasts an unsolicited A record for host. A TTL of zero
// tells listeners to drop the address.
func (s *Session) AnnounceHost(host string, addr netip.Addr, ttl uint32) error {
	s.Clear()
	err := s.AddAnswer(Record{
		Name:       trimDot(host),
		Type:       TypeA,
		Class:      ClassIN,
		CacheFlush: true,
		TTL:        ttl,
		Addr:       addr.Unmap(),
	})
	if err != nil {
		return err
	}
	return s.Send()
}

// AnnounceService multicasts the records a browser needs to resolve the
// instance without further queries: the PTR records as answers, then the SRV
// record and the host addresses as additional records.
func (s *Session) AnnounceService(a ServiceAnnouncement) error {
	if trimDot(a.Instance) == "" || trimDot(a.Service) == "" || trimDot(a.Host) == "" {
		return fmt.Errorf("%w: service announcement needs instance, service and host", ErrInvalidRecord)
	}

	s.Clear()
	host := trimDot(a.Host)
	answers := []Record{
		{Name: a.ServiceName(), Type: TypePTR, Class: ClassIN, TTL: a.TTL, Target: a.InstanceName()},
		{Name: a.ServiceTypeName(), Type: TypePTR, Class: ClassIN, TTL: a.TTL, Target: a.ServiceName()},
	}
	for _, rec := range answers {
		if err := s.AddAnswer(rec); err != nil {
			return err
		}
	}

	err := s.AddAdditional(Record{
		Name:       a.InstanceName(),
		Type:       TypeSRV,
		Class:      ClassIN,
		CacheFlush: true,
		TTL:        a.TTL,
		Port:       a.Port,
		Target:     host,
	})
	if err != nil {
		return err
	}

	ttl := a.TTL
	if ttl > 0 {
		ttl = addrTTL
	}
	for _, addr := range a.Addrs {
		err := s.AddAdditional(Record{
			Name:       host,
			Type:       TypeA,
			Class:      ClassIN,
			CacheFlush: true,
			TTL:        ttl,
			Addr:       addr.Unmap(),
		})
		if err != nil {
			return err
		}
	}
	return s.Send()
}
