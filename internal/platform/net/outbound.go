// SPDX-License-Identifier: MIT

// Package net validates outbound URLs before the daemon downloads from them.
// Provider result URLs and configured soundtrack URLs are untrusted input.
package net

import (
	"errors"
	"fmt"
	stdnet "net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ErrOutboundNotAllowed indicates the URL did not match the host allowlist.
var ErrOutboundNotAllowed = errors.New("outbound url not allowed")

// Policy defines which download URLs are acceptable.
type Policy struct {
	// AllowHosts restricts downloads to the listed hosts. Empty allows any
	// https host.
	AllowHosts []string
	// AllowInsecureLoopback permits plain http to loopback addresses, for
	// tests and local development stacks.
	AllowInsecureLoopback bool
}

// NormalizeHost validates and normalizes a host for comparison.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "://") {
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	}
	if strings.Contains(host, "/") {
		return "", fmt.Errorf("host must not include path: %s", raw)
	}
	if strings.Contains(host, "@") {
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && stdnet.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := stdnet.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// ValidateDownloadURL checks a URL against the policy and returns the
// normalized URL string to fetch. Rules: https required (http only for
// loopback when the policy allows it), no userinfo, no fragment, port must
// be the scheme default or 80/443 (loopback targets may use any port), and
// the normalized host must match the allowlist when one is configured.
func ValidateDownloadURL(raw string, policy Policy) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("outbound url empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing url host")
	}
	if u.User != nil {
		return "", fmt.Errorf("userinfo not allowed")
	}
	if u.Fragment != "" {
		return "", fmt.Errorf("fragments not allowed")
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return "", err
	}

	loopback := isLoopbackHost(host)

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "https":
	case "http":
		if !policy.AllowInsecureLoopback || !loopback {
			return "", fmt.Errorf("scheme %q not allowed for host %q", scheme, host)
		}
	default:
		return "", fmt.Errorf("scheme %q not allowed", scheme)
	}

	port, err := urlPort(u, scheme)
	if err != nil {
		return "", err
	}
	if !loopback && port != 80 && port != 443 {
		return "", fmt.Errorf("port %d not allowed", port)
	}

	// Literal IP targets outside loopback are refused: providers and CDNs
	// hand out hostnames, a bare IP is a smell.
	if ip := stdnet.ParseIP(host); ip != nil && !loopback {
		return "", fmt.Errorf("literal ip host %s not allowed", host)
	}

	if len(policy.AllowHosts) > 0 && !loopback {
		allowed, err := normalizeAllowlist(policy.AllowHosts)
		if err != nil {
			return "", err
		}
		if _, ok := allowed[host]; !ok {
			return "", fmt.Errorf("%w: %s", ErrOutboundNotAllowed, host)
		}
	}

	u.Host = joinHostPort(host, u.Port())
	return u.String(), nil
}

// SanitizeURL removes user info and query parameters for safe logging.
func SanitizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	parsedURL.RawQuery = ""
	return parsedURL.String()
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := stdnet.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func urlPort(u *url.URL, scheme string) (int, error) {
	if u.Port() == "" {
		switch scheme {
		case "http":
			return 80, nil
		case "https":
			return 443, nil
		default:
			return 0, fmt.Errorf("unknown scheme %q", scheme)
		}
	}
	portStr := u.Port()
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return port, nil
}

func normalizeAllowlist(hosts []string) (map[string]struct{}, error) {
	allow := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		normalized, err := NormalizeHost(host)
		if err != nil {
			return nil, err
		}
		allow[normalized] = struct{}{}
	}
	return allow, nil
}

func joinHostPort(host, port string) string {
	if port == "" {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return stdnet.JoinHostPort(host, port)
}
