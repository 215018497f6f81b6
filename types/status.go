// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package types

import "fmt"

// Status indicates how far the enrichment of a flagged address has come along.
type Status int

// The enrichment states of a flagged address.
const (
	Queued       Status = iota // flagged, but enrichment not yet started.
	Enriching                  // lookup in flight.
	LookupFailed               // lookup failed, see the result's Failure.
	Enriched                   // lookup succeeded.
)

// String returns the clear-text representation of a Status value.
func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Enriching:
		return "enriching"
	case Enriched:
		return "enriched"
	case LookupFailed:
		return "lookup failed"
	}
	return fmt.Sprintf("Status(%d)", s)
}

// IsPending returns true as long as an address hasn't been either successfully
// or unsuccessfully enriched.
func (s Status) IsPending() bool {
	switch s {
	case Queued, Enriching:
		return true
	default:
		return false
	}
}

// FlaggedStatus reports the enrichment status of a single flagged address,
// together with its position in discovery order. Result is only valid for the
// final Enriched and LookupFailed statuses.
type FlaggedStatus struct {
	Index  int
	Status Status
	Result EnrichmentResult
	Logged bool // audit record successfully written.
}
