// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"net"
	"net/url"
	"os"
)

// DialChecker reports whether a TCP connection to the host of rawURL opens.
type DialChecker struct {
	name string
	addr string
	err  error
}

// NewDialChecker derives the dial address from rawURL, defaulting the port
// from the scheme.
func NewDialChecker(name, rawURL string) *DialChecker {
	c := &DialChecker{name: name}
	u, err := url.Parse(rawURL)
	if err != nil {
		c.err = err
		return c
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" || u.Scheme == "wss" {
			port = "443"
		}
	}
	c.addr = net.JoinHostPort(u.Hostname(), port)
	return c
}

func (c *DialChecker) Name() string { return c.name }

func (c *DialChecker) Check(ctx context.Context) CheckResult {
	if c.err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: c.err.Error()}
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: c.addr, Error: err.Error()}
	}
	_ = conn.Close()
	return CheckResult{Status: StatusHealthy, Message: c.addr}
}

// DirChecker checks that a watched directory still exists. A missing
// directory degrades the daemon instead of failing it.
type DirChecker struct {
	name string
	path string
}

func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	info, err := os.Stat(c.path)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Message: c.path, Error: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusDegraded, Message: c.path, Error: "expected directory"}
	}
	return CheckResult{Status: StatusHealthy, Message: c.path}
}
