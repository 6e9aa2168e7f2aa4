package security

import (
	"fmt"
	"net"
	"strings"
)

// HostValidator validates hostnames and IPs for SSRF protection.
type HostValidator struct {
	blockedHostnames []string
}

// NewHostValidator creates a host validator with default blocked hosts.
func NewHostValidator() *HostValidator {
	return &HostValidator{
		blockedHostnames: []string{
			"localhost",
			"127.0.0.1",
			"::1",
			"0.0.0.0",
			"::",
			"::ffff:127.0.0.1",
			"[::1]",
			"[::ffff:127.0.0.1]",
		},
	}
}

// Validate checks that a hostname does not point at the local machine or a
// private network.
func (v *HostValidator) Validate(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname is required")
	}

	normalized := strings.ToLower(strings.TrimSpace(hostname))
	for _, blocked := range v.blockedHostnames {
		if normalized == blocked {
			return fmt.Errorf("hostname %q is blocked (SSRF protection: localhost access)", hostname)
		}
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// DNS failure is not a security decision; the actual request will
		// fail on its own.
		return nil
	}

	for _, ip := range ips {
		if err := validateIP(ip); err != nil {
			return err
		}
	}

	return nil
}

// validateIP blocks loopback, private, link-local, multicast, and
// unspecified addresses.
func validateIP(ip net.IP) error {
	switch {
	case ip == nil:
		return fmt.Errorf("IP address is nil")
	case ip.IsLoopback():
		return fmt.Errorf("IP %s is blocked (SSRF protection: loopback address)", ip)
	case ip.IsPrivate():
		return fmt.Errorf("IP %s is blocked (SSRF protection: private network)", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("IP %s is blocked (SSRF protection: link-local address)", ip)
	case ip.IsMulticast():
		return fmt.Errorf("IP %s is blocked (SSRF protection: multicast address)", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("IP %s is blocked (SSRF protection: unspecified address)", ip)
	}
	return nil
}
