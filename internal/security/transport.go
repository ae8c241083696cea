// Package security keeps outbound webhook delivery away from internal
// infrastructure. Organization administrators choose webhook URLs, so every
// dial and every redirect target is resolved and checked against a blocklist
// of private, loopback, link-local and reserved ranges.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const dnsTimeout = 500 * time.Millisecond

var (
	ErrSSRFBlocked          = errors.New("ssrf: request to blocked IP range")
	ErrSSRFDNSTimeout       = errors.New("ssrf: DNS resolution timeout")
	ErrSSRFTooManyRedirects = errors.New("ssrf: too many redirects")
	ErrSSRFDNSFailed        = errors.New("ssrf: DNS resolution failed")
)

// BlockedCIDRs are never reachable from webhook delivery.
var BlockedCIDRs = []string{
	"127.0.0.0/8",    // loopback
	"10.0.0.0/8",     // RFC 1918
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"169.254.0.0/16", // link-local, cloud metadata
	"0.0.0.0/8",
	"224.0.0.0/4",   // multicast
	"240.0.0.0/4",   // reserved
	"100.64.0.0/10", // CGN
	"198.18.0.0/15", // benchmarking
	"fc00::/7",
	"fe80::/10",
	"::1/128",
}

var blockedNets = mustParseCIDRs(BlockedCIDRs)

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("ssrf: bad CIDR %q: %v", cidr, err))
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// IsBlockedIP reports whether ip falls inside any blocked range.
func IsBlockedIP(ip net.IP) bool {
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// IsSSRFError reports whether err came from the SSRF guard rather than from
// the remote endpoint.
func IsSSRFError(err error) bool {
	return errors.Is(err, ErrSSRFBlocked) ||
		errors.Is(err, ErrSSRFDNSTimeout) ||
		errors.Is(err, ErrSSRFDNSFailed) ||
		errors.Is(err, ErrSSRFTooManyRedirects)
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// guard resolves a host and rejects it if any address is blocked.
type guard struct {
	resolver Resolver
}

func newGuard(r Resolver) *guard {
	if r == nil {
		r = net.DefaultResolver
	}
	return &guard{resolver: r}
}

// check returns the first safe address for host. All addresses must be safe
// so a DNS answer mixing public and private IPs is rejected.
func (g *guard) check(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if IsBlockedIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrSSRFBlocked, ip)
		}
		return ip, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := g.resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrSSRFDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrSSRFDNSFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrSSRFDNSFailed, host)
	}
	for _, a := range addrs {
		if IsBlockedIP(a.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrSSRFBlocked, a.IP, host)
		}
	}
	return addrs[0].IP, nil
}

// SafeTransport is an http.RoundTripper whose dialer only connects to
// addresses that passed the guard.
type SafeTransport struct {
	Base  *http.Transport
	guard *guard
}

// NewSafeTransport wraps base (or a fresh transport) with the SSRF dialer.
func NewSafeTransport(base *http.Transport, resolver Resolver) *SafeTransport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	st := &SafeTransport{Base: base, guard: newGuard(resolver)}
	base.Proxy = nil
	base.DialContext = st.dialContext
	return st
}

func (st *SafeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return st.Base.RoundTrip(req)
}

func (st *SafeTransport) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}
	ip, err := st.guard.check(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
}

// CheckRedirect returns an http.Client CheckRedirect hook that caps the
// redirect chain and applies the guard to every hop.
func CheckRedirect(maxRedirects int, resolver Resolver) func(req *http.Request, via []*http.Request) error {
	g := newGuard(resolver)
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrSSRFTooManyRedirects, maxRedirects)
		}
		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrSSRFBlocked)
		}
		_, err := g.check(req.Context(), host)
		return err
	}
}

// NewSafeHTTPClient builds the client used for webhook delivery.
func NewSafeHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	return newSafeHTTPClient(timeout, maxRedirects, nil)
}

func newSafeHTTPClient(timeout time.Duration, maxRedirects int, resolver Resolver) *http.Client {
	return &http.Client{
		Transport:     NewSafeTransport(nil, resolver),
		Timeout:       timeout,
		CheckRedirect: CheckRedirect(maxRedirects, resolver),
	}
}
