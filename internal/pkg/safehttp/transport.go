// Package safehttp builds the HTTP transport used by the GraphQL terminal.
package safehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Options configures NewTransport.
type Options struct {
	// BlockPrivate rejects connections to private or loopback IP ranges to
	// reduce SSRF risk when endpoints come from untrusted configuration.
	BlockPrivate bool
	// DialTimeout bounds connection setup. Zero means 5s.
	DialTimeout time.Duration
}

// NewTransport returns a clone of http.DefaultTransport with the dialer
// configured by opts.
func NewTransport(opts Options) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	if !opts.BlockPrivate {
		t.DialContext = dialer.DialContext
		return t
	}

	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		ip := net.ParseIP(host)
		if ip == nil {
			conn.Close()
			return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
		}

		if IsPrivate(ip) {
			conn.Close()
			return nil, fmt.Errorf("access to private IP %s is denied", ip)
		}

		return conn, nil
	}
	return t
}

// IsPrivate reports whether ip is loopback, private or link-local.
func IsPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
