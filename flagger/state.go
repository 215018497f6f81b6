// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package flagger

import (
	"fmt"

	"github.com/siemens/blackdig/types"
)

// State of a run.
type State int

// The states of a run, in order.
const (
	Init State = iota
	Loading
	Capturing
	Matching
	Enriching
	Logging
	Done
	Aborted
)

// String returns the clear-text representation of a State value.
func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Loading:
		return "loading"
	case Capturing:
		return "capturing"
	case Matching:
		return "matching"
	case Enriching:
		return "enriching"
	case Logging:
		return "logging"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", s)
}

// Observer gets notified about the progress of a run. Status notifications
// might come in from multiple goroutines, so implementations need to be safe
// for concurrent use.
type Observer interface {
	// StateChanged is called whenever the run enters a new state.
	StateChanged(state State)
	// Flagged is called once with the flagged addresses in discovery order,
	// before any lookup gets started.
	Flagged(addrs []types.Address)
	// StatusChanged is called when the lookup for a flagged address starts,
	// and finally after its audit record has been written (or not).
	StatusChanged(status types.FlaggedStatus)
}

// ObserverFuncs adapts optional functions to the Observer interface.
type ObserverFuncs struct {
	OnState   func(State)
	OnFlagged func([]types.Address)
	OnStatus  func(types.FlaggedStatus)
}

var _ Observer = (*ObserverFuncs)(nil)

func (o *ObserverFuncs) StateChanged(state State) {
	if o.OnState != nil {
		o.OnState(state)
	}
}

func (o *ObserverFuncs) Flagged(addrs []types.Address) {
	if o.OnFlagged != nil {
		o.OnFlagged(addrs)
	}
}

func (o *ObserverFuncs) StatusChanged(status types.FlaggedStatus) {
	if o.OnStatus != nil {
		o.OnStatus(status)
	}
}
