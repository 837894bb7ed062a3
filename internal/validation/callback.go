package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateCallbackURL enforces SSRF protection on agent callback URLs before
// the first write. Loopback targets are always allowed (local development);
// other private, link-local, or unspecified addresses are rejected unless the
// server runs in self-hosted mode. Plain http is only allowed for loopback.
func ValidateCallbackURL(raw string, allowPrivate bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid callback URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("callback URL must use http or https, got %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("callback URL has no host")
	}

	if isLoopbackHost(host) {
		return nil
	}
	if u.Scheme != "https" {
		return fmt.Errorf("callback URL must use https outside loopback")
	}
	if allowPrivate {
		return nil
	}

	ips, err := resolveHost(host)
	if err != nil {
		return fmt.Errorf("callback host %q did not resolve: %w", host, err)
	}
	for _, ip := range ips {
		if isDisallowedIP(ip) {
			return fmt.Errorf("callback host %q resolves to a private or link-local address", host)
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func resolveHost(host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	return net.LookupIP(host)
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
