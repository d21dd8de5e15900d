// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package backend is the HTTP client for the processing backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/platform/httpx"
)

const maxErrorBody = 4 << 10

// Config describes how to reach the backend.
type Config struct {
	BaseURL string
	// PushBaseURL overrides the origin used for the websocket and event
	// stream endpoints. Empty means BaseURL.
	PushBaseURL string
	Token       string
	Timeout     time.Duration
}

// Client talks to the backend's upload and session endpoints. It is safe for
// concurrent use; one Client serves every session.
type Client struct {
	base   *url.URL
	push   *url.URL
	token  string
	http   *http.Client
	stream *http.Client
	sf     singleflight.Group
	logger zerolog.Logger
}

// UploadTicket is the backend's answer to an upload request.
type UploadTicket struct {
	UploadURL string `json:"uploadUrl"`
	SessionID string `json:"sessionId"`
}

// StatusResponse is one status document, as served by the polling endpoint
// and framed by the push endpoints.
type StatusResponse struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// Empty reports whether the document carries no information at all.
func (s StatusResponse) Empty() bool {
	return s.Status == "" && s.Progress == 0 && s.Error == "" && s.Message == ""
}

// New validates cfg and builds a client.
func New(cfg Config) (*Client, error) {
	base, err := parseBase(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("backend base url: %w", err)
	}
	push := base
	if cfg.PushBaseURL != "" {
		if push, err = parseBase(cfg.PushBaseURL); err != nil {
			return nil, fmt.Errorf("backend push url: %w", err)
		}
	}
	return &Client{
		base:   base,
		push:   push,
		token:  cfg.Token,
		http:   httpx.NewClient(cfg.Timeout),
		stream: httpx.NewStreamingClient(cfg.Timeout),
		logger: log.WithComponent("backend"),
	}, nil
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func (c *Client) endpoint(base *url.URL, segments ...string) string {
	return base.JoinPath(segments...).String()
}

// Header returns the headers every backend request carries.
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// PushURL is the websocket endpoint for a session.
func (c *Client) PushURL(sessionID string) string {
	u := *c.push
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return c.endpoint(&u, "sessions", sessionID, "ws")
}

// EventsURL is the server-sent event endpoint for a session.
func (c *Client) EventsURL(sessionID string) string {
	return c.endpoint(c.push, "sessions", sessionID, "events")
}

// Streaming returns the client used for long-lived responses.
func (c *Client) Streaming() *http.Client {
	return c.stream
}

// RequestUpload asks for a pre-authorised destination for a file.
func (c *Client) RequestUpload(ctx context.Context, filename string, size int64, mimeType string) (UploadTicket, error) {
	const op = "upload request"
	body := map[string]any{"filename": filename, "size": size, "mimeType": mimeType}

	var out UploadTicket
	if err := c.doJSON(ctx, op, http.MethodPost, c.endpoint(c.base, "upload", "request"), body, &out); err != nil {
		return UploadTicket{}, err
	}
	if out.SessionID == "" || out.UploadURL == "" {
		return UploadTicket{}, badResponse(op, errors.New("missing sessionId or uploadUrl"))
	}
	return out, nil
}

// PutObject streams body to uploadURL. The request is bound only by ctx.
func (c *Client) PutObject(ctx context.Context, uploadURL string, body io.Reader, size int64, mimeType string) error {
	const op = "upload transfer"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return fmt.Errorf("backend %s: %w", op, err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", mimeType)

	res, err := c.stream.Do(req)
	if err != nil {
		return unavailable(op, err)
	}
	defer drain(res.Body)
	if res.StatusCode/100 != 2 {
		return readServerError(op, res)
	}
	return nil
}

// CompleteUpload tells the backend the transfer finished.
func (c *Client) CompleteUpload(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, "upload complete", http.MethodPost, c.endpoint(c.base, "upload", "complete", sessionID), nil, nil)
}

// SubmitRemote asks the backend to fetch a remote resource.
func (c *Client) SubmitRemote(ctx context.Context, rawURL string, consent bool) (string, error) {
	const op = "remote submit"
	body := map[string]any{"url": rawURL, "consentAcknowledged": consent}

	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.doJSON(ctx, op, http.MethodPost, c.endpoint(c.base, "upload", "remote"), body, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", badResponse(op, errors.New("missing sessionId"))
	}
	return out.SessionID, nil
}

// Status fetches the processing status of a session. Concurrent calls for
// the same session share one request.
func (c *Client) Status(ctx context.Context, sessionID string) (StatusResponse, error) {
	v, err, shared := c.sf.Do(sessionID, func() (any, error) {
		var out StatusResponse
		err := c.doJSON(ctx, "status", http.MethodGet, c.endpoint(c.base, "sessions", sessionID, "status"), nil, &out)
		return out, err
	})
	if shared {
		c.logger.Debug().Str(log.FieldSessionID, sessionID).Msg("status request coalesced")
	}
	if err != nil {
		return StatusResponse{}, err
	}
	return v.(StatusResponse), nil
}

func (c *Client) doJSON(ctx context.Context, op, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend %s: encode: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("backend %s: %w", op, err)
	}
	for k, v := range c.Header() {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Msg("backend request failed")
		return unavailable(op, err)
	}
	defer drain(res.Body)

	c.logger.Debug().
		Str("op", op).
		Int("status", res.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend request")

	if res.StatusCode/100 != 2 {
		return readServerError(op, res)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return badResponse(op, err)
	}
	return nil
}

func readServerError(op string, res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return &ServerError{
		Operation: op,
		Status:    res.StatusCode,
		Message:   extractMessage(raw),
		Body:      strings.TrimSpace(string(raw)),
	}
}

// extractMessage pulls a human-readable message out of a JSON error body.
func extractMessage(raw []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	for _, key := range []string{"error", "message", "detail"} {
		switch v := doc[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	return ""
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	_ = body.Close()
}
