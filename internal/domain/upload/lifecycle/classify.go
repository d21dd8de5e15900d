// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"context"
	"errors"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

const (
	MsgCancelled  = "upload cancelled"
	MsgTimeout    = "processing timed out"
	MsgProcessing = "processing failed"
)

// serverError is satisfied by backend response errors. Matching on behaviour
// keeps this package free of transport imports.
type serverError interface {
	StatusCode() int
	ServerMessage() string
}

// Classify maps an error raised by local work (transfer, backend calls,
// channel fatals) onto the session error taxonomy.
func Classify(err error) *model.Error {
	if err == nil {
		return nil
	}

	var me *model.Error
	if errors.As(err, &me) {
		return me
	}
	if errors.Is(err, context.Canceled) {
		return model.NewError(model.KindCancelled, MsgCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewError(model.KindTimeout, MsgTimeout, err)
	}

	var se serverError
	if errors.As(err, &se) {
		msg := se.ServerMessage()
		if msg == "" {
			msg = err.Error()
		}
		return model.NewError(model.KindServer, msg, err)
	}
	// A request that never got a response is still a failed backend exchange.
	return model.NewError(model.KindServer, err.Error(), err)
}

// RemoteFailure builds the session error for an update that canonicalised
// to Error.
func RemoteFailure(u model.ProgressUpdate) *model.Error {
	if NormalizeStatus(u.RawStatus) == RawTimeout {
		msg := u.Error
		if msg == "" {
			msg = MsgTimeout
		}
		return model.NewError(model.KindTimeout, msg, nil)
	}

	msg := u.Error
	if msg == "" {
		msg = u.Message
	}
	if msg == "" {
		msg = MsgProcessing
	}
	return model.NewError(model.KindProcessing, msg, nil)
}

// Cancelled is the error stored by a caller-initiated cancel.
func Cancelled() *model.Error {
	return model.NewError(model.KindCancelled, MsgCancelled, context.Canceled)
}
