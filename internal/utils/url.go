package utils

import (
	"net/http"
	"strings"
)

// RequestOrigin reports the scheme://host the client used to reach us.
// A non-empty override (public_base_url) always wins.
func RequestOrigin(r *http.Request, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(fwd, ",")[0]))
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host
}

// RequestPath is the raw path plus query exactly as the client sent it.
func RequestPath(r *http.Request) string {
	return r.URL.RequestURI()
}
