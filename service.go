package mdns

import (
	"fmt"
	"net/netip"
)

// MaxHosts is the default capacity of a client's result table.
const MaxHosts = 4

// maxPendingAddrs bounds the addresses kept for hosts not yet named by an
// SRV record during a service lookup.
const maxPendingAddrs = 16

// ResolvedHost is one row of the discovery result table. A row is filled in
// by several records which may arrive in any order.
type ResolvedHost struct {
	Service string     `json:"service"`  // Service instance name (e.g. "printer._ipp._tcp.local")
	Host    string     `json:"hostname"` // Host name from the SRV record
	Port    uint16     `json:"port"`     // Port from the SRV record
	Addr    netip.Addr `json:"addr"`     // IPv4 address from the A record
}

// Complete reports whether every field has been filled in.
func (h ResolvedHost) Complete() bool {
	return h.Service != "" && h.Host != "" && h.Port != 0 && h.Addr.IsValid()
}

// String formats the row for logs. A missing address is shown as "-".
func (h ResolvedHost) String() string {
	addr := "-"
	if h.Addr.IsValid() {
		addr = h.Addr.String()
	}
	return fmt.Sprintf("%s host=%s port=%d addr=%s", h.Service, h.Host, h.Port, addr)
}

// hostTable is a fixed capacity table kept in insertion order. Entries are
// never evicted; when it is full new services are dropped.
type hostTable struct {
	capacity  int
	entries   []ResolvedHost
	byService map[string]int
	pending   map[string]netip.Addr
}

// newHostTable creates a table for capacity rows, MaxHosts when not positive.
func newHostTable(capacity int) *hostTable {
	if capacity <= 0 {
		capacity = MaxHosts
	}
	return &hostTable{
		capacity:  capacity,
		entries:   make([]ResolvedHost, 0, capacity),
		byService: make(map[string]int, capacity),
		pending:   make(map[string]netip.Addr),
	}
}

// reset empties the table and forgets pending addresses.
func (t *hostTable) reset() {
	t.entries = t.entries[:0]
	clear(t.byService)
	clear(t.pending)
}

// addService returns the row for service, creating it if needed. It reports
// false for the root name and when the service is new and the table is full.
func (t *hostTable) addService(service string) (int, bool) {
	if service == "" {
		return 0, false
	}
	if i, ok := t.byService[service]; ok {
		return i, true
	}
	if len(t.entries) == t.capacity {
		return 0, false
	}
	t.entries = append(t.entries, ResolvedHost{Service: service})
	t.byService[service] = len(t.entries) - 1
	return len(t.entries) - 1, true
}

// setTarget fills port and host of an existing service row. When the host
// changes, the address is replaced by the one seen earlier for the new host,
// if any.
func (t *hostTable) setTarget(service, host string, port uint16) bool {
	i, ok := t.byService[service]
	if !ok || host == "" {
		return false
	}
	e := &t.entries[i]
	e.Port = port
	if e.Host != host {
		e.Host = host
		e.Addr = t.pending[host]
	}
	return true
}

// setAddr fills the address of every row naming host. When no row does, the
// address is remembered for a later SRV record. Rows without a host never
// match, and neither does the root name.
func (t *hostTable) setAddr(host string, addr netip.Addr) bool {
	if host == "" {
		return false
	}
	var found bool
	for i := range t.entries {
		if t.entries[i].Host != "" && t.entries[i].Host == host {
			t.entries[i].Addr = addr
			found = true
		}
	}
	if !found {
		if _, ok := t.pending[host]; ok || len(t.pending) < maxPendingAddrs {
			t.pending[host] = addr
		}
	}
	return found
}

// setFirst stores h in the first row, as used by host lookups.
func (t *hostTable) setFirst(h ResolvedHost) {
	if len(t.entries) == 0 {
		t.entries = append(t.entries, h)
	} else {
		t.entries[0] = h
	}
	if h.Service != "" {
		t.byService[h.Service] = 0
	}
}

// first returns the first row, if any.
func (t *hostTable) first() (ResolvedHost, bool) {
	if len(t.entries) == 0 {
		return ResolvedHost{}, false
	}
	return t.entries[0], true
}

// complete returns the fully populated rows in insertion order.
func (t *hostTable) complete() []ResolvedHost {
	var out []ResolvedHost
	for _, e := range t.entries {
		if e.Complete() {
			out = append(out, e)
		}
	}
	return out
}

// hasComplete reports whether at least one row is fully populated.
func (t *hostTable) hasComplete() bool {
	for _, e := range t.entries {
		if e.Complete() {
			return true
		}
	}
	return false
}

// snapshot copies every row, partial ones included.
func (t *hostTable) snapshot() []ResolvedHost {
	return append([]ResolvedHost(nil), t.entries...)
}
