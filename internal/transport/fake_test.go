// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

// fakeChannel is a scriptable Channel. With hang set, Open blocks until its
// context is cancelled.
type fakeChannel struct {
	kind    Kind
	hang    bool
	openErr error

	mu     sync.Mutex
	emit   Emit
	ctx    context.Context
	opened chan struct{}
	closes atomic.Int32
}

func newFakeChannel(kind Kind) *fakeChannel {
	return &fakeChannel{kind: kind, opened: make(chan struct{})}
}

func (f *fakeChannel) Kind() Kind { return f.kind }

func (f *fakeChannel) Open(ctx context.Context, _ string, emit Emit) error {
	f.mu.Lock()
	f.emit, f.ctx = emit, ctx
	f.mu.Unlock()
	close(f.opened)

	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.openErr
}

func (f *fakeChannel) Close() error {
	f.closes.Add(1)
	return nil
}

// Emit sends ev through the emitter handed to Open.
func (f *fakeChannel) Emit(ev Event) {
	<-f.opened
	f.mu.Lock()
	emit := f.emit
	f.mu.Unlock()
	emit(ev)
}

func (f *fakeChannel) Update(status string, progress float64) {
	f.Emit(Event{Update: &model.ProgressUpdate{RawStatus: status, Progress: progress, Transport: string(f.kind)}})
}

type fakeFactory struct {
	push  *fakeChannel
	mu    sync.Mutex
	polls []*fakeChannel
}

func (f *fakeFactory) Push() Channel { return f.push }

func (f *fakeFactory) Poll() Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := newFakeChannel(KindPoll)
	f.polls = append(f.polls, ch)
	return ch
}

func (f *fakeFactory) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.polls)
}

func (f *fakeFactory) poll(i int) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[i]
}

type recordingSink struct {
	mu        sync.Mutex
	updates   []model.ProgressUpdate
	fails     []error
	onDeliver func(model.ProgressUpdate)
}

func (r *recordingSink) Deliver(u model.ProgressUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	hook := r.onDeliver
	r.mu.Unlock()
	if hook != nil {
		hook(u)
	}
}

func (r *recordingSink) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fails = append(r.fails, err)
}

func (r *recordingSink) Updates() []model.ProgressUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ProgressUpdate(nil), r.updates...)
}

func (r *recordingSink) Fails() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.fails...)
}
