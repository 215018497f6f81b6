// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package types

import (
	"fmt"
	"net/http"
)

// Geo is the geographic information about an address, as returned by the
// geolocation service. Each field is optional.
type Geo struct {
	City    *string `json:"city"`
	Region  *string `json:"region"`
	Country *string `json:"country"`
	Loc     *string `json:"loc"` // "latitude,longitude"
}

// FailureKind classifies why enriching an address failed.
type FailureKind string

// The kinds of enrichment failures.
const (
	FailureTimeout   FailureKind = "timeout"   // lookup didn't complete in time.
	FailureStatus    FailureKind = "status"    // non-success HTTP response status.
	FailureMalformed FailureKind = "malformed" // response body of unexpected shape.
	FailureNotFound  FailureKind = "not_found" // service doesn't know the address.
	FailureTransport FailureKind = "transport" // connection-level problem.
	FailureCancelled FailureKind = "cancelled" // run was shut down.
)

// Failure describes a failed enrichment attempt. Failure satisfies the error
// interface so it can be passed to code expecting errors, but it is normally
// carried around as a value inside an [EnrichmentResult].
type Failure struct {
	Kind       FailureKind
	Reason     string // human-readable reason, ends up in the audit record.
	StatusCode int    // HTTP status code, if any.
}

func (f *Failure) Error() string { return f.Reason }

// Transient returns true if repeating the lookup later might succeed.
func (f *Failure) Transient() bool {
	switch f.Kind {
	case FailureTimeout, FailureTransport:
		return true
	case FailureStatus:
		return f.StatusCode == http.StatusTooManyRequests || f.StatusCode >= 500
	}
	return false
}

// EnrichmentResult is the outcome of enriching a flagged address: exactly one
// of Geo and Failure is non-nil.
type EnrichmentResult struct {
	Address Address
	Geo     *Geo
	Failure *Failure
}

// Succeeded returns a successful enrichment result.
func Succeeded(addr Address, geo Geo) EnrichmentResult {
	return EnrichmentResult{Address: addr, Geo: &geo}
}

// FailedWith returns a failed enrichment result.
func FailedWith(addr Address, kind FailureKind, reason string) EnrichmentResult {
	return EnrichmentResult{
		Address: addr,
		Failure: &Failure{Kind: kind, Reason: reason},
	}
}

// FailedWithStatus returns a failed enrichment result for an unexpected HTTP
// response status.
func FailedWithStatus(addr Address, code int) EnrichmentResult {
	return EnrichmentResult{
		Address: addr,
		Failure: &Failure{
			Kind:       FailureStatus,
			Reason:     fmt.Sprintf("unexpected response status %d %s", code, http.StatusText(code)),
			StatusCode: code,
		},
	}
}

// OK returns true if the enrichment succeeded.
func (r EnrichmentResult) OK() bool { return r.Failure == nil && r.Geo != nil }

// String returns a short single-line description, mainly for console output.
func (r EnrichmentResult) String() string {
	if !r.OK() {
		reason := "no result"
		if r.Failure != nil {
			reason = r.Failure.Reason
		}
		return fmt.Sprintf("%s (error: %s)", r.Address, reason)
	}
	return fmt.Sprintf("%s (%s, %s, %s, loc %s)", r.Address,
		orDash(r.Geo.City), orDash(r.Geo.Region), orDash(r.Geo.Country), orDash(r.Geo.Loc))
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
