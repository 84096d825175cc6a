package atagone

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Well-known ports of the Atag One controller.
const (
	// DevicePort is the TCP port of the controller's HTTP interface.
	DevicePort = 10000

	// DiscoveryPort is the UDP port the controller broadcasts announcements to.
	DiscoveryPort = 11000
)

// Endpoint is the HTTP base URL of the controller, e.g. "http://10.0.0.5:10000".
// The zero value means no endpoint is known.
type Endpoint string

// EndpointForHost builds the endpoint of a controller reachable at host.
func EndpointForHost(host string) Endpoint {
	return Endpoint("http://" + net.JoinHostPort(host, strconv.Itoa(DevicePort)))
}

// ParseEndpoint validates raw as an http base URL with a host. The
// controller does not serve TLS, so https is rejected.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidEndpoint, raw, err)
	}
	if u.Scheme != "http" {
		return "", fmt.Errorf("%w: %q: scheme must be http", ErrInvalidEndpoint, raw)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, raw)
	}
	return Endpoint(raw), nil
}

// IsZero reports whether no endpoint is set.
func (e Endpoint) IsZero() bool {
	return e == ""
}

// Host returns the host part of the endpoint, or "" if it cannot be parsed.
func (e Endpoint) Host() string {
	u, err := url.Parse(string(e))
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (e Endpoint) String() string {
	return string(e)
}
