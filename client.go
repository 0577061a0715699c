// Package mdns implements a small multicast DNS (mDNS) engine for local
// network discovery: a bounds-checked wire codec for names and records, a
// packet session that builds and parses messages in a single buffer, and a
// client that resolves host names and DNS-SD service instances by polling
// the session until a deadline.
//
// Everything runs on the caller's goroutine. A lookup blocks until it
// succeeds, its timeout expires or its context is cancelled.
package mdns

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
)

var (
	// ErrNotFound is returned when a lookup times out without a result.
	ErrNotFound = errors.New("mdns: not found")

	// ErrLookupInProgress is returned when a lookup is started while another
	// one is still running on the same client.
	ErrLookupInProgress = errors.New("mdns: lookup already in progress")
)

// clientOpts holds configuration options for the mDNS client.
type clientOpts struct {
	capacity int
	log      logging.LeveledLogger
}

// ClientOption defines a function type for configuring client options.
type ClientOption func(*clientOpts)

// WithCapacity sets how many services a lookup can track. The default is
// MaxHosts.
func WithCapacity(n int) ClientOption {
	return func(o *clientOpts) {
		o.capacity = n
	}
}

// WithClientLogger sets the sink for lookup diagnostics.
func WithClientLogger(log logging.LeveledLogger) ClientOption {
	return func(o *clientOpts) {
		o.log = log
	}
}

// Client resolves names over a Session. It runs one lookup at a time and
// keeps the results of the last one until the next starts.
type Client struct {
	session *Session
	log     logging.LeveledLogger

	busy  sync.Mutex
	table *hostTable
}

// NewClient creates a client that queries through s.
func NewClient(s *Session, options ...ClientOption) *Client {
	var conf = clientOpts{
		capacity: MaxHosts,
	}
	for _, o := range options {
		if o != nil {
			o(&conf)
		}
	}
	if conf.log == nil {
		conf.log = discardLogger()
	}

	return &Client{
		session: s,
		log:     conf.log,
		table:   newHostTable(conf.capacity),
	}
}

// LookupHost sends an A query for name and waits for the matching answer.
// On timeout it returns the zero netip.Addr and ErrNotFound.
func (c *Client) LookupHost(ctx context.Context, name string, timeout time.Duration) (netip.Addr, error) {
	question, err := lookupName(name)
	if err != nil {
		return netip.Addr{}, err
	}

	l := &hostLookup{question: question, table: c.table, log: c.log}
	q := Query{Name: question, Type: TypeA, Class: ClassIN}
	if err := c.run(ctx, l, q, timeout); err != nil {
		return netip.Addr{}, err
	}
	e, _ := c.table.first()
	return e.Addr, nil
}

// LookupService sends a PTR query for service and collects the instances,
// their SRV targets and the targets' addresses. It returns as soon as one
// instance is fully resolved, with every instance complete at that point.
// On timeout it returns ErrNotFound. Partially resolved instances stay
// available through Results.
func (c *Client) LookupService(ctx context.Context, service string, timeout time.Duration) ([]ResolvedHost, error) {
	question, err := lookupName(service)
	if err != nil {
		return nil, err
	}

	l := &serviceLookup{question: question, table: c.table, log: c.log}
	q := Query{Name: question, Type: TypePTR, Class: ClassIN}
	if err := c.run(ctx, l, q, timeout); err != nil {
		return nil, err
	}
	return c.table.complete(), nil
}

// Results returns a copy of the result table as the last lookup left it. It
// waits for a running lookup to finish.
func (c *Client) Results() []ResolvedHost {
	c.busy.Lock()
	defer c.busy.Unlock()
	return c.table.snapshot()
}

// lookup is the per-call state installed as the session handler.
type lookup interface {
	Handler
	done() bool
}

// run sends q and polls the session until l is done, the timeout expires or
// ctx is cancelled.
func (c *Client) run(ctx context.Context, l lookup, q Query, timeout time.Duration) error {
	if !c.busy.TryLock() {
		return ErrLookupInProgress
	}
	defer c.busy.Unlock()

	deadline := time.Now().Add(timeout)

	prev := c.session.Handler()
	c.session.SetHandler(l)
	defer c.session.SetHandler(prev)

	c.table.reset()
	c.session.Clear()
	if err := c.session.AddQuery(q); err != nil {
		return err
	}
	if err := c.session.Send(); err != nil {
		return err
	}
	c.log.Debugf("mdns: looking up %s %s", typeString(q.Type), q.Name)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.session.Poll(); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			c.log.Debugf("mdns: lookup %s: %v", q.Name, err)
		}
		if l.done() {
			return nil
		}
	}
	c.log.Debugf("mdns: lookup %s timed out after %v", q.Name, timeout)
	return ErrNotFound
}

// hostLookup resolves a single host name into the first table row.
type hostLookup struct {
	NopHandler
	question string
	table    *hostTable
	log      logging.LeveledLogger
}

// OnAnswer keeps the address of an A record named exactly like the question.
func (l *hostLookup) OnAnswer(rec *Record) {
	if rec.Type != TypeA || rec.Name != l.question {
		return
	}
	l.table.setFirst(ResolvedHost{Host: rec.Name, Addr: rec.Addr})
	l.log.Debugf("mdns: %s is at %v", rec.Name, rec.Addr)
}

// done reports whether the question has an address.
func (l *hostLookup) done() bool {
	e, ok := l.table.first()
	return ok && e.Host == l.question && e.Addr.IsValid()
}

// serviceLookup correlates PTR, SRV and A records for one service type.
type serviceLookup struct {
	NopHandler
	question string
	table    *hostTable
	log      logging.LeveledLogger
}

// OnAnswer correlates one record into the table. A PTR record under the
// service type opens a row, an SRV record for that row names the host and
// port, and an A record for the host completes it. The table is dumped at
// debug level after every change.
func (l *serviceLookup) OnAnswer(rec *Record) {
	switch rec.Type {
	case TypePTR:
		if !strings.Contains(rec.Name, l.question) {
			return
		}
		if rec.Target == "" {
			l.log.Tracef("mdns: ignoring PTR record to the root name")
			return
		}
		if _, ok := l.table.addService(rec.Target); !ok {
			l.log.Warnf("mdns: result table full, dropping %s", rec.Target)
			return
		}

	case TypeSRV:
		host, ok := srvHost(rec.Data)
		if !ok {
			host = rec.Target
		}
		if !l.table.setTarget(rec.Name, host, rec.Port) {
			l.log.Tracef("mdns: no service %s for SRV record", rec.Name)
			return
		}

	case TypeA:
		if rec.Name == "" || !l.table.setAddr(rec.Name, rec.Addr) {
			return
		}

	default:
		return
	}

	for i, e := range l.table.entries {
		l.log.Debugf("mdns: result %d: %v", i, e)
	}
}

// done reports whether any row is complete.
func (l *serviceLookup) done() bool {
	return l.table.hasComplete()
}
