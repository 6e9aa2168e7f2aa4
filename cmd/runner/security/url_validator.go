package security

import (
	"fmt"
	"net/url"
	"strings"
)

// allowedProtocols is the closed set of schemes workflow blocks may call.
// Everything else (file, gopher, dict, redis, ...) is refused before any
// network activity happens.
var allowedProtocols = map[string]bool{
	"http":  true,
	"https": true,
}

// URLValidator performs the security checks the api block and the HTTP
// tool run before dispatching a request.
type URLValidator struct {
	hostValidator *HostValidator
}

// NewURLValidator creates a URL validator with SSRF protection enabled.
func NewURLValidator() *URLValidator {
	return &URLValidator{
		hostValidator: NewHostValidator(),
	}
}

// ValidateFormat checks that a URL is well formed and carries an http(s)
// protocol. The error message suggests the corrected URL so users can fix
// their block config directly.
func (v *URLValidator) ValidateFormat(urlStr string) error {
	trimmed := strings.TrimSpace(urlStr)
	if trimmed == "" {
		return fmt.Errorf("URL is required")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return fmt.Errorf("URL %q is missing a protocol, try \"https://%s\"", trimmed, trimmed)
	}
	if !allowedProtocols[scheme] {
		return fmt.Errorf("protocol %q is not allowed (only http/https permitted)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL %q has no host", trimmed)
	}

	return nil
}

// Validate performs full validation: format, protocol, and hostname (SSRF
// protection against loopback, private and link-local targets).
func (v *URLValidator) Validate(urlStr string) error {
	if err := v.ValidateFormat(urlStr); err != nil {
		return err
	}

	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if err := v.hostValidator.Validate(parsed.Hostname()); err != nil {
		return fmt.Errorf("host validation failed: %w", err)
	}

	return nil
}
