// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionRegistryCloseAndWaitDrainsWorkers(t *testing.T) {
	reg := newSessionRegistry()

	done := make(chan struct{})
	if ok := reg.Go(func() {
		<-done
	}); !ok {
		t.Fatal("expected worker to start")
	}

	close(done)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.CloseAndWait(ctx); err != nil {
		t.Fatalf("expected drain success, got %v", err)
	}
}

func TestSessionRegistryCloseAndWaitTimeout(t *testing.T) {
	reg := newSessionRegistry()

	block := make(chan struct{})
	if ok := reg.Go(func() {
		<-block
	}); !ok {
		t.Fatal("expected worker to start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := reg.CloseAndWait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	close(block)
}

func TestSessionRegistryRejectsWorkAfterClose(t *testing.T) {
	reg := newSessionRegistry()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.CloseAndWait(ctx); err != nil {
		t.Fatalf("expected close on empty registry to succeed, got %v", err)
	}

	if ok := reg.Go(func() {}); ok {
		t.Fatal("expected registry to reject workers after close")
	}
	if err := reg.add(&session{id: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSessionRegistryTracksSessions(t *testing.T) {
	reg := newSessionRegistry()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"b", "a", "c"} {
		if err := reg.add(&session{id: id, created: t0.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if err := reg.add(&session{id: "a"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	var order []string
	for _, s := range reg.all() {
		order = append(order, s.id)
	}
	if got, want := len(order), 3; got != want {
		t.Fatalf("expected %d sessions, got %d", want, got)
	}
	if order[0] != "b" || order[1] != "a" || order[2] != "c" {
		t.Fatalf("expected creation order, got %v", order)
	}

	a, _ := reg.get("a")
	if !reg.remove(a) {
		t.Fatal("expected first remove to win")
	}
	if reg.remove(a) {
		t.Fatal("expected second remove to lose")
	}
	if _, ok := reg.get("a"); ok {
		t.Fatal("expected a to be removed")
	}
}
