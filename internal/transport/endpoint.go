// ABOUTME: Endpoint parsing for the warden transport
// ABOUTME: Accepts tcp://host:port, tcp://*:port, and bare host:port forms

package transport

import (
	"fmt"
	"net"
	"strings"
)

// DefaultEndpoint is where the server listens when nothing is configured.
const DefaultEndpoint = "tcp://0.0.0.0:5555"

// ParseEndpoint converts an endpoint string into a dialable or listenable
// TCP address. A "*" host means every interface.
func ParseEndpoint(endpoint string) (string, error) {
	addr := endpoint
	if scheme, rest, ok := strings.Cut(endpoint, "://"); ok {
		if scheme != "tcp" {
			return "", fmt.Errorf("unsupported endpoint scheme %q in %q", scheme, endpoint)
		}
		addr = rest
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if port == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing port", endpoint)
	}
	if host == "*" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, port), nil
}

// Port returns just the port of an endpoint, for listeners (such as a
// tailnet node) that choose their own address.
func Port(endpoint string) (string, error) {
	addr, err := ParseEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	_, port, _ := net.SplitHostPort(addr)
	return port, nil
}
