package config

import (
	"io"

	"github.com/getsentry/raven-go"
	"github.com/pion/logging"

	mdns "github.com/elum-utils/minimdns"
)

// LoggerFactory returns a factory writing to w at the configured levels.
func (c *Config) LoggerFactory(w io.Writer) *logging.DefaultLoggerFactory {
	level, _ := ParseLevel(c.Log.Level)
	factory := &logging.DefaultLoggerFactory{
		Writer:          w,
		DefaultLogLevel: level,
		ScopeLevels:     make(map[string]logging.LogLevel, len(c.Log.Scopes)),
	}
	for scope, name := range c.Log.Scopes {
		if l, ok := ParseLevel(name); ok {
			factory.ScopeLevels[scope] = l
		}
	}
	return factory
}

// Open binds the mDNS socket and creates a session on it. Each component
// logs under its own scope: "transport", "session" and "client".
func (c *Config) Open(loggers logging.LoggerFactory) (*mdns.Session, error) {
	ifaces, err := c.Interfaces()
	if err != nil {
		return nil, err
	}

	t, err := mdns.ListenUDP4(
		mdns.SelectIfaces(ifaces),
		mdns.WithPollInterval(c.Network.PollInterval),
		mdns.WithTransportLogger(loggers.NewLogger("transport")),
	)
	if err != nil {
		return nil, err
	}

	options := []mdns.SessionOption{
		mdns.WithMaxPacketSize(c.Network.MaxPacketSize),
		mdns.WithLogger(loggers.NewLogger("session")),
	}
	if c.Log.PacketDump {
		options = append(options, mdns.WithPacketDump())
	}
	s, err := mdns.NewSession(t, options...)
	if err != nil {
		t.Close()
		return nil, err
	}
	return s, nil
}

// NewClient creates a discovery client on s with the configured capacity.
func (c *Config) NewClient(s *mdns.Session, loggers logging.LoggerFactory) *mdns.Client {
	return mdns.NewClient(s,
		mdns.WithCapacity(c.Lookup.Capacity),
		mdns.WithClientLogger(loggers.NewLogger("client")),
	)
}

// ConfigureReporting enables error reporting when a Sentry DSN is set.
func (c *Config) ConfigureReporting(release string) {
	if c.Application.SentryDSN == "" {
		return
	}
	raven.SetDSN(c.Application.SentryDSN)
	raven.SetRelease(release)
}

// Report forwards err to the error reporting service, if one is configured,
// and waits for delivery.
func (c *Config) Report(err error, tags map[string]string) {
	if err == nil || c.Application.SentryDSN == "" {
		return
	}
	raven.CaptureErrorAndWait(err, tags)
}

// ExitFailure is the status returned by Fail.
const ExitFailure = 1

// Fail logs err and reports it. It returns ExitFailure so that a program's
// run function can hand it to os.Exit once its deferred cleanup has run.
func (c *Config) Fail(log logging.LeveledLogger, err error) int {
	log.Errorf("%v", err)
	c.Report(err, nil)
	return ExitFailure
}
