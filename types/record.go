// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"time"
)

// TimestampLayout is the ISO-8601 layout of audit record timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// AuditRecord is a single entry of the audit trail, describing a flagged
// address together with the outcome of its enrichment.
type AuditRecord struct {
	Timestamp  time.Time
	Enrichment EnrichmentResult
}

// Address returns the flagged address this record is about.
func (r AuditRecord) Address() Address { return r.Enrichment.Address }

type flaggedIP struct {
	IP      Address `json:"ip"`
	City    *string `json:"city"`
	Region  *string `json:"region"`
	Country *string `json:"country"`
	Loc     *string `json:"loc"`
}

type failedIP struct {
	IP    Address `json:"ip"`
	Error string  `json:"error"`
}

// MarshalJSON renders the audit record in its audit log form, with missing
// geographic fields as nulls, or an "error" field instead in case the
// enrichment failed.
func (r AuditRecord) MarshalJSON() ([]byte, error) {
	var flagged interface{}
	switch {
	case r.Enrichment.OK():
		geo := r.Enrichment.Geo
		flagged = flaggedIP{
			IP:      r.Enrichment.Address,
			City:    geo.City,
			Region:  geo.Region,
			Country: geo.Country,
			Loc:     geo.Loc,
		}
	default:
		reason := "no enrichment result"
		if r.Enrichment.Failure != nil {
			reason = r.Enrichment.Failure.Reason
		}
		flagged = failedIP{IP: r.Enrichment.Address, Error: reason}
	}
	return json.Marshal(struct {
		Timestamp string      `json:"timestamp"`
		FlaggedIP interface{} `json:"flagged_ip"`
	}{
		Timestamp: r.Timestamp.Format(TimestampLayout),
		FlaggedIP: flagged,
	})
}
