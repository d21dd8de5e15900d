// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state string
type event string

func table() []Transition[state, event] {
	return []Transition[state, event]{
		{From: "idle", Event: "go", To: "running"},
		{From: "running", Event: "stop", To: "done"},
	}
}

func TestMachine_FireFollowsTable(t *testing.T) {
	m := MustNew[state, event]("idle", table())

	assert.True(t, m.Can("go"))
	assert.False(t, m.Can("stop"))

	to, err := m.Fire(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, state("running"), to)

	_, err = m.Fire(context.Background(), "go")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, state("running"), m.State())
}

func TestMachine_GuardRejects(t *testing.T) {
	deny := errors.New("denied")
	m := MustNew[state, event]("idle", []Transition[state, event]{
		{From: "idle", Event: "go", To: "running", Guard: func(context.Context, state, event) error { return deny }},
	})

	_, err := m.Fire(context.Background(), "go")
	assert.ErrorIs(t, err, deny)
	assert.Equal(t, state("idle"), m.State())
}

func TestNew_DuplicateTransition(t *testing.T) {
	_, err := New[state, event]("idle", append(table(), Transition[state, event]{From: "idle", Event: "go", To: "done"}))
	require.Error(t, err)
}
