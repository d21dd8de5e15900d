// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"sync"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

// OnUpdate calls fn with the current snapshot and then with every newer
// one, in order, from a dedicated goroutine. Intermediate snapshots may be
// skipped when fn is slow, but the snapshot current at the end of an
// attempt is always delivered. The returned func unsubscribes and waits for fn to return; it
// must not be called from inside fn.
func (m *Manager) OnUpdate(id string, fn func(Snapshot)) (func(), error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	sub, err := m.bus.Subscribe(context.Background(), topic(id))
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sub.Close()

		var last Snapshot
		deliver := func(snap Snapshot) {
			if last.Seq != 0 && snap.Seq <= last.Seq {
				return
			}
			last = snap
			fn(snap)
		}
		deliver(s.machine.Snapshot())

		for {
			// Once the terminal snapshot went out, only a retry (seen on
			// the bus) can produce anything new.
			var done <-chan struct{}
			if !last.State.IsTerminal() {
				done = s.machine.Done()
			}
			select {
			case <-stop:
				return
			case <-s.gone:
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				if snap, ok := msg.(model.UploadSession); ok {
					deliver(snap)
				}
			case <-done:
				deliver(s.machine.Snapshot())
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		wg.Wait()
	}, nil
}
