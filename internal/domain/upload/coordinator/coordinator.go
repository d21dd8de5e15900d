// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package coordinator validates submissions, obtains a backend session id
// and runs the transfer up to the point where processing is observed.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/uplink/internal/backend"
	"github.com/ManuGH/uplink/internal/domain/upload/model"
	"github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/telemetry"
)

// Backend is the part of the backend client the coordinator calls.
type Backend interface {
	RequestUpload(ctx context.Context, filename string, size int64, mimeType string) (backend.UploadTicket, error)
	PutObject(ctx context.Context, uploadURL string, body io.Reader, size int64, mimeType string) error
	CompleteUpload(ctx context.Context, sessionID string) error
	SubmitRemote(ctx context.Context, rawURL string, consent bool) (string, error)
}

// Session is the part of the state machine a transfer drives.
type Session interface {
	BeginUpload() error
	TransferProgress(pct float64) bool
	BeginProcessing() error
}

// Ticket is an accepted submission that the backend has assigned an id to.
type Ticket struct {
	SessionID string
	Kind      model.SourceKind
	UploadURL string

	file        LocalFile
	attempts    atomic.Int32
	transferred atomic.Bool
}

// Transferred reports whether the object reached the backend in an earlier
// attempt, in which case a retry only observes processing again.
func (t *Ticket) Transferred() bool { return t.transferred.Load() }

// Coordinator turns sources into backend sessions.
type Coordinator struct {
	backend   Backend
	validator *validator
	rate      float64
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// New returns a coordinator enforcing rules.
func New(b Backend, rules Rules) (*Coordinator, error) {
	v, err := newValidator(rules)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		backend:   b,
		validator: v,
		rate:      rules.ProgressRate,
		tracer:    otel.Tracer("uplink/coordinator"),
		logger:    log.WithComponent("coordinator"),
	}, nil
}

// Validate runs the boundary checks without touching the network.
func (c *Coordinator) Validate(src Source) error {
	return c.validator.check(src)
}

// Prepare validates src and asks the backend for a session id. Validation
// failures return a *ValidationError and make no request.
func (c *Coordinator) Prepare(ctx context.Context, src Source) (*Ticket, error) {
	if err := c.Validate(src); err != nil {
		c.logger.Info().Err(err).Str(log.FieldEvent, "submission.rejected").Msg("submission failed validation")
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "upload.prepare")
	defer span.End()

	switch s := deref(src).(type) {
	case LocalFile:
		span.SetAttributes(telemetry.FileAttributes(s.Size, s.MimeType)...)
		tk, err := c.backend.RequestUpload(ctx, s.Name, s.Size, baseMime(s.MimeType))
		if err != nil {
			recordError(span, err)
			return nil, err
		}
		c.logger.Info().
			Str(log.FieldEvent, "submission.accepted").
			Str(log.FieldSessionID, tk.SessionID).
			Str(log.FieldSourceKind, string(model.SourceLocalFile)).
			Int64(log.FieldBytes, s.Size).
			Msg("upload destination issued")
		return &Ticket{SessionID: tk.SessionID, Kind: model.SourceLocalFile, UploadURL: tk.UploadURL, file: s}, nil

	case RemoteURL:
		id, err := c.backend.SubmitRemote(ctx, s.URL, s.ConsentAcknowledged)
		if err != nil {
			recordError(span, err)
			return nil, err
		}
		c.logger.Info().
			Str(log.FieldEvent, "submission.accepted").
			Str(log.FieldSessionID, id).
			Str(log.FieldSourceKind, string(model.SourceRemoteURL)).
			Str(log.FieldURL, s.URL).
			Msg("remote fetch accepted")
		return &Ticket{SessionID: id, Kind: model.SourceRemoteURL}, nil
	}
	return nil, invalid("source", src, "unsupported source type %T", src)
}

// Drive runs the client side of one attempt: the transfer for local files,
// then the move into Processing. The caller starts progress observation
// once Drive returns nil.
func (c *Coordinator) Drive(ctx context.Context, t *Ticket, sess Session) error {
	attempt := int(t.attempts.Add(1))
	if t.Kind == model.SourceRemoteURL || t.Transferred() {
		return sess.BeginProcessing()
	}

	ctx, span := c.tracer.Start(ctx, "upload.transfer",
		trace.WithAttributes(telemetry.SessionAttributes(t.SessionID, string(t.Kind), attempt)...),
		trace.WithAttributes(telemetry.FileAttributes(t.file.Size, t.file.MimeType)...))
	defer span.End()

	if err := c.transfer(ctx, t, sess); err != nil {
		recordError(span, err)
		return err
	}
	return sess.BeginProcessing()
}

func (c *Coordinator) transfer(ctx context.Context, t *Ticket, sess Session) error {
	if err := sess.BeginUpload(); err != nil {
		return err
	}

	body, err := t.file.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", t.file.Name, err)
	}
	defer body.Close()

	pr := newProgressReader(body, t.file.Size, c.rate, func(pct float64) { sess.TransferProgress(pct) })
	if err := c.backend.PutObject(ctx, t.UploadURL, pr, t.file.Size, baseMime(t.file.MimeType)); err != nil {
		return err
	}
	sess.TransferProgress(100)

	if err := c.backend.CompleteUpload(ctx, t.SessionID); err != nil {
		return err
	}
	t.transferred.Store(true)
	c.logger.Info().
		Str(log.FieldEvent, "transfer.complete").
		Str(log.FieldSessionID, t.SessionID).
		Int64(log.FieldBytes, t.file.Size).
		Msg("transfer acknowledged by backend")
	return nil
}

func deref(src Source) Source {
	switch s := src.(type) {
	case *LocalFile:
		return *s
	case *RemoteURL:
		return *s
	}
	return src
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	kind := "unknown"
	if k, ok := model.KindOf(err); ok {
		kind = string(k)
	} else if backend.IsServerError(err) {
		kind = string(model.KindServer)
	}
	span.SetAttributes(telemetry.ErrorAttributes(kind)...)
}
