// Package origin decides which browser origins may open signaling
// connections.
//
// Telehealth calls are always initiated from a browser, so the WebSocket
// upgrade and the ICE-config endpoint see an Origin header. The default
// policy is same-host; deployments that serve the call UI from a separate
// domain configure an explicit allowlist.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Policy evaluates Origin headers against an allowlist. A nil or empty
// allowlist means same-host only; a "*" entry allows everything.
type Policy struct {
	allowed map[string]bool
	any     bool
}

func NewPolicy(allowedOrigins []string) *Policy {
	p := &Policy{allowed: make(map[string]bool, len(allowedOrigins))}
	for _, raw := range allowedOrigins {
		entry := strings.TrimSpace(raw)
		if entry == "*" {
			p.any = true
			continue
		}
		if norm, _, ok := Normalize(entry); ok {
			p.allowed[norm] = true
		}
	}
	return p
}

// Permits reports whether a request with the given Origin header may proceed
// against the given request Host. A missing Origin header is permitted: it
// means a non-browser client, which the origin check is not meant to guard.
func (p *Policy) Permits(originHeader, requestHost string) bool {
	if strings.TrimSpace(originHeader) == "" {
		return true
	}
	norm, host, ok := Normalize(originHeader)
	if !ok {
		return false
	}

	if p.any {
		return true
	}
	if len(p.allowed) > 0 {
		return p.allowed[norm]
	}

	// Same-host default. Scheme is deliberately not compared: behind a
	// TLS-terminating proxy the request looks like HTTP while the browser
	// Origin says HTTPS.
	scheme, _, found := strings.Cut(norm, "://")
	if !found {
		// "null" and other opaque origins never match a host.
		return false
	}
	reqHost, ok := foldHost(requestHost, scheme)
	if !ok {
		return false
	}
	return host == reqHost
}

// Normalize validates a browser Origin header and folds it to the canonical
// scheme://host[:port] form, dropping default ports. The opaque value "null"
// is accepted as-is.
func Normalize(originHeader string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = foldHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// foldHost lowercases a host[:port] authority, validates the port, and drops
// it when it is the scheme default. IPv6 literals keep their brackets.
func foldHost(rawHost, scheme string) (string, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(rawHost))
	hostname, portStr, ok := splitHostPort(trimmed)
	if !ok || hostname == "" {
		return "", false
	}

	var port uint64
	if portStr != "" {
		n, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = authority[1:end]
		rest := authority[end+1:]
		switch {
		case rest == "":
			return hostname, "", true
		case strings.HasPrefix(rest, ":") && len(rest) > 1:
			return hostname, rest[1:], true
		default:
			return "", "", false
		}
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ = strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		// Unbracketed IPv6 is not a valid authority.
		return "", "", false
	}
}
