// Package links normalizes article permalinks so that trivial upstream variations map to one key.
package links

import (
	"net"
	"net/url"
	"strings"
)

// Canonicalize returns the matching key for a permalink: scheme and host are lowercased, a leading
// "www." label and a default port are dropped, and the fragment is removed. Inputs that do not parse
// as absolute URLs are returned trimmed. Canonicalize(Canonicalize(s)) == Canonicalize(s).
func Canonicalize(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Fragment = ""
	u.RawFragment = ""

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	port := u.Port()

	switch {
	case port == "",
		port == "80" && u.Scheme == "http",
		port == "443" && u.Scheme == "https":
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		u.Host = host
	default:
		u.Host = net.JoinHostPort(host, port)
	}

	return u.String()
}

// WithCacheBuster appends a "_" query parameter carrying value, used to defeat intermediate caches
// that keep serving stale pages.
func WithCacheBuster(raw, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	q.Set("_", value)
	u.RawQuery = q.Encode()

	return u.String()
}
