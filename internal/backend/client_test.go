// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/uplink/internal/backend"
	"github.com/ManuGH/uplink/internal/backend/backendtest"
)

func newClient(t *testing.T, srv *backendtest.Server, token string) *backend.Client {
	t.Helper()
	c, err := backend.New(backend.Config{BaseURL: srv.URL, Token: token, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestClient_LocalUploadRoundTrip(t *testing.T) {
	srv := backendtest.NewServer()
	srv.Token = "secret"
	srv.SessionID = "sess-1"
	defer srv.Close()

	c := newClient(t, srv, "secret")
	ctx := context.Background()

	ticket, err := c.RequestUpload(ctx, "clip.mp4", 4, "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", ticket.SessionID)
	assert.Equal(t, srv.URL+"/blob/sess-1", ticket.UploadURL)

	require.NoError(t, c.PutObject(ctx, ticket.UploadURL, bytes.NewReader([]byte("abcd")), 4, "video/mp4"))
	assert.Equal(t, []byte("abcd"), srv.Received())

	require.NoError(t, c.CompleteUpload(ctx, ticket.SessionID))
	assert.EqualValues(t, 1, srv.Hits(backendtest.RouteUploadComplete))
}

func TestClient_MissingTokenIsServerError(t *testing.T) {
	srv := backendtest.NewServer()
	srv.Token = "secret"
	defer srv.Close()

	_, err := newClient(t, srv, "").SubmitRemote(context.Background(), "https://youtu.be/abc", true)
	require.Error(t, err)

	var se *backend.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode())
	assert.Equal(t, "unauthorized", se.ServerMessage())
	assert.ErrorIs(t, err, backend.ErrHTTPStatus)
}

func TestClient_ServerMessageExtraction(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "error field", body: `{"error":"quota exceeded"}`, want: "quota exceeded"},
		{name: "message field", body: `{"message":"try later"}`, want: "try later"},
		{name: "nested error", body: `{"error":{"message":"bad mime"}}`, want: "bad mime"},
		{name: "detail field", body: `{"detail":"nope"}`, want: "nope"},
		{name: "plain text", body: `gateway exploded`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := backendtest.NewServer()
			defer srv.Close()
			srv.FailUploadRequest(http.StatusBadGateway, tt.body)

			_, err := newClient(t, srv, "").RequestUpload(context.Background(), "a.mp4", 1, "video/mp4")
			var se *backend.ServerError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusBadGateway, se.Status)
			assert.Equal(t, tt.want, se.Message)
		})
	}
}

func TestClient_StatusAndURLs(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.SetStatuses(backendtest.StatusReply{Frame: backendtest.Frame{Status: "processing", Progress: 40}})

	c := newClient(t, srv, "")
	st, err := c.Status(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusResponse{Status: "processing", Progress: 40}, st)

	assert.Equal(t, "ws"+srv.URL[len("http"):]+"/sessions/abc/ws", c.PushURL("abc"))
	assert.Equal(t, srv.URL+"/sessions/abc/events", c.EventsURL("abc"))
}

func TestClient_UnreachableIsUnavailable(t *testing.T) {
	srv := backendtest.NewServer()
	url := srv.URL
	srv.Close()

	c, err := backend.New(backend.Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Status(context.Background(), "abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrUnavailable))
	assert.False(t, backend.IsServerError(err))
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "http://"} {
		_, err := backend.New(backend.Config{BaseURL: raw})
		assert.Error(t, err, raw)
	}
}
