package mdns

import (
	"fmt"
	"io"
	"strings"

	"github.com/pion/logging"
	"golang.org/x/net/idna"
)

// trimDot removes leading and trailing dots from a DNS name string.
// This is useful for normalizing domain names and preventing double dots
// when constructing fully qualified domain names (FQDNs).
//
// Example: ".local." becomes "local", "service." becomes "service"
func trimDot(s string) string {
	return strings.Trim(s, ".")
}

// lookupName turns a user supplied name into the form it takes on the wire
// and in received records: no surrounding dots, non-ASCII labels converted to
// punycode.
func lookupName(name string) (string, error) {
	name = trimDot(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	ascii, err := idna.Punycode.ToASCII(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err)
	}
	return ascii, nil
}

// srvHost extracts the target host from the text form of an SRV record.
func srvHost(data string) (string, bool) {
	_, host, ok := strings.Cut(data, "host=")
	if !ok || host == "" {
		return "", false
	}
	return host, true
}

// discardLogger is the logger used when none is configured.
func discardLogger() logging.LeveledLogger {
	return logging.NewDefaultLeveledLoggerForScope("mdns", logging.LogLevelDisabled, io.Discard)
}
