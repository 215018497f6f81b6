// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package main

import (
	"sync"

	"github.com/siemens/blackdig/flagger"
	"github.com/siemens/blackdig/types"
)

// tracker keeps the current state of a run together with the statuses of the
// flagged addresses, as told by the flagger. The tracker is safe for
// concurrent use.
type tracker struct {
	mu      sync.Mutex
	state   flagger.State
	flagged []types.FlaggedStatus
	logged  func(types.FlaggedStatus) // optional, called for each logged address.
}

var _ flagger.Observer = (*tracker)(nil)

// newTracker returns a new tracker, optionally calling the specified function
// whenever a flagged address has been logged.
func newTracker(logged func(types.FlaggedStatus)) *tracker {
	return &tracker{logged: logged}
}

func (t *tracker) StateChanged(state flagger.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

func (t *tracker) Flagged(addrs []types.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flagged = make([]types.FlaggedStatus, len(addrs))
	for idx, addr := range addrs {
		t.flagged[idx] = types.FlaggedStatus{
			Index:  idx,
			Status: types.Queued,
			Result: types.EnrichmentResult{Address: addr},
		}
	}
}

func (t *tracker) StatusChanged(status types.FlaggedStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if status.Index < 0 || status.Index >= len(t.flagged) {
		return
	}
	// a late "enriching" notification must not overwrite a final status.
	if status.Status.IsPending() && !t.flagged[status.Index].Status.IsPending() {
		return
	}
	t.flagged[status.Index] = status
	if status.Logged && t.logged != nil {
		t.logged(status)
	}
}

// Get returns the current state together with a copy of the flagged
// addresses' statuses.
func (t *tracker) Get() (flagger.State, []types.FlaggedStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, append([]types.FlaggedStatus(nil), t.flagged...)
}
