package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// blockedWebhookHosts is the internal-hostname blocklist checked in
// addition to private/loopback/reserved IP range rejection.
var blockedWebhookHosts = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
}

// ErrSSRFBlocked is returned when a webhook target resolves to a
// disallowed address. The guard runs here, at configuration load time, so
// a bad target is rejected before the engine ever starts rather than on
// its first delivery attempt.
var ErrSSRFBlocked = errors.New("config: webhook target blocked by SSRF guard")

// ssrfGuard rejects custom webhook URLs that are private, loopback, or
// otherwise reserved, or resolve to an address in those ranges, plus a
// fixed blocklist of internal hostnames.
func ssrfGuard(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrSSRFBlocked, err)
	}

	host := parsed.Hostname()
	if _, blocked := blockedWebhookHosts[strings.ToLower(host)]; blocked {
		return fmt.Errorf("%w: host %q is on the internal hostname blocklist", ErrSSRFBlocked, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isDisallowedWebhookAddr(addr) {
			return fmt.Errorf("%w: address %s is private, loopback, or reserved", ErrSSRFBlocked, addr)
		}
		return nil
	}

	addrs, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable at config-load time; there is nothing further to
		// validate here and the delivery attempt itself will fail.
		return nil
	}
	for _, ip := range addrs {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if isDisallowedWebhookAddr(addr) {
			return fmt.Errorf("%w: host %q resolves to %s (private, loopback, or reserved)", ErrSSRFBlocked, host, addr)
		}
	}
	return nil
}

func isDisallowedWebhookAddr(addr netip.Addr) bool {
	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() ||
		!addr.IsGlobalUnicast()
}
