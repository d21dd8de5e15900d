// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ManuGH/uplink/internal/control/http/problem"
)

// CSRFProtection rejects state-changing requests issued by a browser page of
// another origin. The control API listens on loopback, so any web page the
// operator visits could otherwise submit or cancel uploads.
//
// Policy:
//  1. Safe methods (GET, HEAD, OPTIONS) are allowed.
//  2. Unsafe methods without Origin or Referer come from non-browser
//     clients (CLI, curl, scripts) and are allowed.
//  3. Unsafe methods with an Origin or Referer must be same-origin or
//     explicitly allowed.
func CSRFProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool)
	for _, origin := range allowedOrigins {
		if normalized, ok := normalizeOrigin(origin); ok {
			allowed[normalized] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			origin, present := requestOrigin(r)
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			if origin == "" || !(allowed[origin] || origin == sameOrigin(r)) {
				problem.Write(w, r, http.StatusForbidden, "auth/csrf", "Forbidden", "CSRF_FORBIDDEN",
					"CSRF check failed: origin not trusted", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestOrigin returns the normalized Origin (or Referer origin) and whether
// the browser sent either header. A present but unparsable header yields "".
func requestOrigin(r *http.Request) (string, bool) {
	if raw := r.Header.Get("Origin"); raw != "" {
		o, _ := normalizeOrigin(raw)
		return o, true
	}
	raw := r.Header.Get("Referer")
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", true
	}
	o, _ := normalizeOrigin(u.Scheme + "://" + u.Host)
	return o, true
}

// sameOrigin reconstructs the expected origin from the Host header and
// connection state. Forwarding headers are never trusted.
func sameOrigin(r *http.Request) string {
	if r.Header.Get("Forwarded") != "" || r.Header.Get("X-Forwarded-Host") != "" {
		return ""
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	o, _ := normalizeOrigin(scheme + "://" + r.Host)
	return o
}

func normalizeOrigin(raw string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return "", false
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" || strings.ContainsAny(host, " \t\r\n/@\\") {
		return "", false
	}

	port := parsed.Port()
	if port != "" {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			return "", false
		}
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	authority := host
	if port != "" {
		authority = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		authority = "[" + host + "]"
	}
	return scheme + "://" + authority, true
}
