package mdns

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/pion/logging"
	"golang.org/x/net/ipv4"
)

var (
	// RFC 6762 link-local group.
	mdnsGroupIPv4 = net.IPv4(224, 0, 0, 251)

	// bind address for the shared mDNS port
	mdnsWildcardAddrIPv4 = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 0), Port: Port}

	// destination of Session.Send
	ipv4Addr = &net.UDPAddr{IP: mdnsGroupIPv4, Port: Port}
)

// DefaultPollInterval is how long a UDP transport waits for a datagram in a
// single Poll call.
const DefaultPollInterval = 5 * time.Millisecond

// maxDatagram is the size of the transport receive buffer. Sessions truncate
// what they copy out of it to their own buffer size.
const maxDatagram = 65536

// Transport moves datagrams for a Session.
type Transport interface {
	// Poll returns the next waiting datagram and its source, or a nil slice
	// when nothing arrived. It must not block for long. The returned slice
	// is only valid until the next call.
	Poll() ([]byte, net.Addr, error)
	// Send writes one datagram to dst.
	Send(b []byte, dst net.Addr) error
	// Close releases the socket.
	Close() error
}

// transportOpts holds configuration options for the UDP transport.
type transportOpts struct {
	ifaces       []net.Interface
	pollInterval time.Duration
	log          logging.LeveledLogger
}

// TransportOption defines a function type for configuring the UDP transport.
type TransportOption func(*transportOpts)

// SelectIfaces restricts the transport to ifaces. An empty list selects every
// interface that is up and multicast capable.
func SelectIfaces(ifaces []net.Interface) TransportOption {
	return func(o *transportOpts) {
		o.ifaces = ifaces
	}
}

// WithPollInterval sets how long Poll waits for a datagram.
func WithPollInterval(d time.Duration) TransportOption {
	return func(o *transportOpts) {
		o.pollInterval = d
	}
}

// WithTransportLogger sets the sink for transport warnings.
func WithTransportLogger(log logging.LeveledLogger) TransportOption {
	return func(o *transportOpts) {
		o.log = log
	}
}

// UDPTransport is the IPv4 multicast Transport bound to port 5353.
type UDPTransport struct {
	conn   *ipv4.PacketConn
	ifaces []net.Interface
	poll   time.Duration
	log    logging.LeveledLogger
	buf    []byte
}

var _ Transport = (*UDPTransport)(nil)

// ListenUDP4 binds the mDNS port and joins the IPv4 mDNS group on the
// selected interfaces.
// It fails when no interface could join.
func ListenUDP4(options ...TransportOption) (*UDPTransport, error) {
	var conf = transportOpts{
		pollInterval: DefaultPollInterval,
	}
	for _, o := range options {
		if o != nil {
			o(&conf)
		}
	}
	if conf.log == nil {
		conf.log = discardLogger()
	}
	if conf.pollInterval <= 0 {
		conf.pollInterval = DefaultPollInterval
	}

	ifaces := conf.ifaces
	if len(ifaces) == 0 {
		ifaces = listMulticastInterfaces()
	}
	conn, err := joinUdp4Multicast(ifaces, conf.log)
	if err != nil {
		return nil, err
	}

	return &UDPTransport{
		conn:   conn,
		ifaces: ifaces,
		poll:   conf.pollInterval,
		log:    conf.log,
		buf:    make([]byte, maxDatagram),
	}, nil
}

// Poll waits at most the poll interval for a datagram.
func (t *UDPTransport) Poll() ([]byte, net.Addr, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.poll)); err != nil {
		return nil, nil, err
	}
	n, _, src, err := t.conn.ReadFrom(t.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return t.buf[:n], src, nil
}

// Send writes b to dst. Multicast destinations are written once per
// interface, unicast ones once.
func (t *UDPTransport) Send(b []byte, dst net.Addr) error {
	if udp, ok := dst.(*net.UDPAddr); !ok || !udp.IP.IsMulticast() || len(t.ifaces) == 0 {
		_, err := t.conn.WriteTo(b, nil, dst)
		return err
	}

	var (
		wcm     ipv4.ControlMessage
		sent    int
		lastErr error
	)
	for ifi := range t.ifaces {
		switch runtime.GOOS {
		case "darwin", "ios", "linux":
			wcm.IfIndex = t.ifaces[ifi].Index
		default:
			if err := t.conn.SetMulticastInterface(&t.ifaces[ifi]); err != nil {
				t.log.Warnf("mdns: failed to set multicast interface %s: %v", t.ifaces[ifi].Name, err)
			}
		}
		if _, err := t.conn.WriteTo(b, &wcm, dst); err != nil {
			t.log.Debugf("mdns: write on %s: %v", t.ifaces[ifi].Name, err)
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 {
		return lastErr
	}
	return nil
}

// Close leaves the multicast group and closes the socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// joinUdp4Multicast binds the mDNS port and joins the group on every
// interface in ifaces, tolerating individual failures.
func joinUdp4Multicast(ifaces []net.Interface, log logging.LeveledLogger) (*ipv4.PacketConn, error) {
	udpConn, err := net.ListenUDP("udp4", mdnsWildcardAddrIPv4)
	if err != nil {
		return nil, fmt.Errorf("udp4: listen: %w", err)
	}

	conn := ipv4.NewPacketConn(udpConn)
	if err := conn.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		log.Debugf("mdns: control messages unavailable: %v", err)
	}
	// link-local traffic, the TTL only matters to broken routers
	_ = conn.SetMulticastTTL(255)

	joined := 0
	group := &net.UDPAddr{IP: mdnsGroupIPv4}
	for i := range ifaces {
		if err := conn.JoinGroup(&ifaces[i], group); err != nil {
			log.Warnf("mdns: failed to join group on %s: %v", ifaces[i].Name, err)
			continue
		}
		joined++
	}
	if joined == 0 {
		conn.Close()
		return nil, fmt.Errorf("udp4: no interface joined %v out of %d", mdnsGroupIPv4, len(ifaces))
	}

	return conn, nil
}

// listMulticastInterfaces returns the interfaces that are up and multicast
// capable.
func listMulticastInterfaces() []net.Interface {
	all, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var ifaces []net.Interface
	for _, ifi := range all {
		if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagMulticast != 0 {
			ifaces = append(ifaces, ifi)
		}
	}
	return ifaces
}
