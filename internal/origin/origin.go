// Package origin implements the browser Origin policy shared by the HTTP
// endpoints and the signaling WebSocket upgrade.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin value and returns it as
// scheme://host[:port] with default ports dropped, together with the
// host[:port] part. "null" is accepted and returned unchanged with an empty
// host.
func Normalize(raw string) (normalized, host string, ok bool) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Check applies the origin policy to a request carrying originHeader for
// requestHost. With an allow-list, entries are "*" or normalized origins.
// Without one, only same-host origins pass; the scheme is ignored so a
// TLS-terminating proxy in front of the server does not break the match.
// The normalized origin is returned for CORS response headers.
func Check(originHeader, requestHost string, allowed []string) (string, bool) {
	normalized, host, ok := Normalize(originHeader)
	if !ok {
		return "", false
	}
	if len(allowed) > 0 {
		for _, a := range allowed {
			if a == "*" || a == normalized {
				return normalized, true
			}
		}
		return "", false
	}
	if normalized == "null" {
		return "", false
	}
	scheme, _, _ := strings.Cut(normalized, "://")
	reqHost, ok := canonicalHost(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	return normalized, ok && reqHost == host
}

func canonicalHost(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(authority)
	if !ok || hostname == "" {
		return "", false
	}
	hostname = strings.ToLower(hostname)

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port != 0 {
		hostname += ":" + strconv.FormatUint(port, 10)
	}
	return hostname, true
}

// splitHostPort splits host[:port], unbracketing IPv6 literals. Unlike
// net.SplitHostPort the port is optional.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := authority[1:end], authority[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if len(rest) < 2 || rest[0] != ':' {
			return "", "", false
		}
		return hostname, rest[1:], true
	}
	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ = strings.Cut(authority, ":")
		return hostname, port, hostname != "" && port != ""
	default:
		return "", "", false
	}
}
