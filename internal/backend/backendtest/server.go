// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package backendtest provides a scriptable in-process backend for tests.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Route patterns served by the fake backend.
const (
	RouteUploadRequest  = "/upload/request"
	RouteBlob           = "/blob/{id}"
	RouteUploadComplete = "/upload/complete/{id}"
	RouteRemote         = "/upload/remote"
	RouteStatus         = "/sessions/{id}/status"
	RoutePush           = "/sessions/{id}/ws"
	RouteEvents         = "/sessions/{id}/events"
)

// Frame is one status document plus the delay before it is sent.
type Frame struct {
	Delay    time.Duration `json:"-"`
	Status   string        `json:"status"`
	Progress float64       `json:"progress"`
	Error    string        `json:"error,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// PushMode controls how the websocket endpoint behaves.
type PushMode int

const (
	// PushServe upgrades, sends the scripted frames and holds the connection.
	PushServe PushMode = iota
	// PushRefuse answers 503 without upgrading.
	PushRefuse
	// PushHang never answers until the client gives up.
	PushHang
	// PushDrop sends the scripted frames, then closes the socket abruptly.
	PushDrop
)

// StatusReply is one scripted answer of the polling endpoint.
type StatusReply struct {
	Code  int
	Frame Frame
	Body  string
}

// Server is a fake backend. Configure it before the code under test starts
// calling; scripts are consumed in order and the last entry repeats.
type Server struct {
	*httptest.Server

	Token     string
	SessionID string

	mu          sync.Mutex
	push        PushMode
	pushFrames  []Frame
	sseFrames   []Frame
	sseDrops    int
	statuses    []StatusReply
	requestCode int
	requestBody string
	completeErr int
	remoteCode  int
	remoteBody  string
	putDelay    time.Duration
	received    []byte
	lastRemote  map[string]any

	requests atomic.Int64
	hits     sync.Map // route -> *atomic.Int64
	closing  chan struct{}
	once     sync.Once
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewServer starts a fake backend.
func NewServer() *Server {
	s := &Server{closing: make(chan struct{})}

	r := chi.NewRouter()
	r.Use(s.count)
	route := func(method, pattern string, h http.HandlerFunc) {
		r.With(s.hit(pattern)).Method(method, pattern, h)
	}
	route(http.MethodPost, RouteUploadRequest, s.handleRequest)
	route(http.MethodPut, RouteBlob, s.handlePut)
	route(http.MethodPost, RouteUploadComplete, s.handleComplete)
	route(http.MethodPost, RouteRemote, s.handleRemote)
	route(http.MethodGet, RouteStatus, s.handleStatus)
	route(http.MethodGet, RoutePush, s.handleWS)
	route(http.MethodGet, RouteEvents, s.handleEvents)

	s.Server = httptest.NewServer(r)
	return s
}

// Close releases held connections and stops the server.
func (s *Server) Close() {
	s.once.Do(func() { close(s.closing) })
	s.Server.CloseClientConnections()
	s.Server.Close()
}

// SetPush configures the websocket endpoint.
func (s *Server) SetPush(mode PushMode, frames ...Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push = mode
	s.pushFrames = frames
}

// SetEvents configures the event stream. The first drops connections end
// after their frames, forcing the client to reconnect.
func (s *Server) SetEvents(drops int, frames ...Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sseDrops = drops
	s.sseFrames = frames
}

// SetStatuses scripts the polling endpoint.
func (s *Server) SetStatuses(replies ...StatusReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = replies
}

// FailUploadRequest makes POST /upload/request answer code with body.
func (s *Server) FailUploadRequest(code int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestCode = code
	s.requestBody = body
}

// FailRemote makes POST /upload/remote answer code with body.
func (s *Server) FailRemote(code int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteCode = code
	s.remoteBody = body
}

// FailComplete makes POST /upload/complete answer code.
func (s *Server) FailComplete(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeErr = code
}

// SlowPut delays the upload destination response.
func (s *Server) SlowPut(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putDelay = d
}

// Requests is the total number of requests served.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Hits is the number of requests for one of the Route patterns.
func (s *Server) Hits(route string) int64 {
	v, ok := s.hits.Load(route)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Received returns the bytes of the last PUT.
func (s *Server) Received() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.received...)
}

// LastRemote returns the body of the last remote submission.
func (s *Server) LastRemote() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRemote
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) hit(pattern string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, _ := s.hits.LoadOrStore(pattern, new(atomic.Int64))
			v.(*atomic.Int64).Add(1)
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.Token == "" || r.Header.Get("Authorization") == "Bearer "+s.Token {
		return true
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	return false
}

func (s *Server) newID() string {
	if s.SessionID != "" {
		return s.SessionID
	}
	return uuid.NewString()
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	s.mu.Lock()
	code, body := s.requestCode, s.requestBody
	s.mu.Unlock()
	if code != 0 {
		writeRaw(w, code, body)
		return
	}
	var in struct {
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
		MimeType string `json:"mimeType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Filename == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	id := s.newID()
	writeJSON(w, http.StatusOK, map[string]string{
		"sessionId": id,
		"uploadUrl": s.URL + "/blob/" + id,
	})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.received = body
	delay := s.putDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	s.mu.Lock()
	code := s.completeErr
	s.mu.Unlock()
	if code != 0 {
		writeJSON(w, code, map[string]string{"error": "complete rejected"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemote(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	var in map[string]any
	_ = json.NewDecoder(r.Body).Decode(&in)

	s.mu.Lock()
	s.lastRemote = in
	code, body := s.remoteCode, s.remoteBody
	s.mu.Unlock()
	if code != 0 {
		writeRaw(w, code, body)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": s.newID()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	s.mu.Lock()
	var reply StatusReply
	switch len(s.statuses) {
	case 0:
		reply = StatusReply{Frame: Frame{Status: "processing"}}
	case 1:
		reply = s.statuses[0]
	default:
		reply = s.statuses[0]
		s.statuses = s.statuses[1:]
	}
	s.mu.Unlock()

	if reply.Code != 0 && reply.Code/100 != 2 {
		writeRaw(w, reply.Code, reply.Body)
		return
	}
	writeJSON(w, http.StatusOK, reply.Frame)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	mode, frames := s.push, append([]Frame(nil), s.pushFrames...)
	s.mu.Unlock()

	switch mode {
	case PushRefuse:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "push disabled"})
		return
	case PushHang:
		select {
		case <-r.Context().Done():
		case <-s.closing:
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, f := range frames {
		if !s.sleep(f.Delay, clientGone) {
			return
		}
		if err := conn.WriteJSON(f); err != nil {
			return
		}
	}
	if mode == PushDrop {
		return
	}
	select {
	case <-clientGone:
	case <-s.closing:
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	frames := append([]Frame(nil), s.sseFrames...)
	drop := s.sseDrops > 0
	if drop {
		s.sseDrops--
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\nevent: ping\ndata: {}\n\n")
	flusher.Flush()

	if drop {
		return
	}
	for _, f := range frames {
		if !s.sleep(f.Delay, r.Context().Done()) {
			return
		}
		buf, _ := json.Marshal(f)
		_, _ = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", buf)
		flusher.Flush()
	}
	select {
	case <-r.Context().Done():
	case <-s.closing:
	}
}

func (s *Server) sleep(d time.Duration, gone <-chan struct{}) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-gone:
		return false
	case <-s.closing:
		return false
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}
