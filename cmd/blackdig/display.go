// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/siemens/blackdig/flagger"
	"github.com/siemens/blackdig/types"
)

// renderer renders the live terminal display of a run, based on the state
// and flagged address statuses passed to its Render method.
type renderer struct {
	Indentation int
	w           io.Writer
	styles      styles
	spinner     *spinner
}

// newRenderer returns a renderer object rendering to the specified io.Writer
// using the specified styles.
func newRenderer(w io.Writer, st styles, spinnerInterval time.Duration) *renderer {
	sp := newSpinner()
	sp.Start(spinnerInterval)
	return &renderer{
		Indentation: 3,
		w:           w,
		styles:      st,
		spinner:     sp,
	}
}

// Stop the renderer's background ticker.
func (r *renderer) Stop() {
	r.spinner.Stop()
}

// Render the given run state and flagged addresses.
func (r *renderer) Render(state flagger.State, flagged []types.FlaggedStatus) {
	switch state {
	case flagger.Init, flagger.Loading, flagger.Capturing, flagger.Matching:
		fmt.Fprintf(r.w, "%s...\n", state)
		return
	}
	logged := 0
	for _, status := range flagged {
		if status.Logged {
			logged++
		}
	}
	fmt.Fprintf(r.w, "%s: %d of %d flagged addresses logged\n",
		r.styles.heading.Styled(state.String()), logged, len(flagged))
	// For neat display, determine the length of the longest address so that
	// the geolocation column doesn't zig-zag around.
	width := 0
	for _, status := range flagged {
		if l := len(status.Result.Address); l > width {
			width = l
		}
	}
	for _, status := range flagged {
		addr := fmt.Sprintf("%-*s", width, status.Result.Address)
		fmt.Fprintf(r.w, "%*s", r.Indentation, "")
		switch status.Status {
		case types.Queued:
			fmt.Fprintf(r.w, " ? %s", addr)
		case types.Enriching:
			fmt.Fprint(r.w, r.styles.pending.Styled(" "+r.spinner.Spinner()+addr))
		case types.Enriched:
			fmt.Fprint(r.w, r.styles.enriched.Styled(" ✔ "+addr)+" "+describe(status.Result))
		case types.LookupFailed:
			fmt.Fprint(r.w, r.styles.failed.Styled(" × "+addr)+" "+describe(status.Result))
		}
		fmt.Fprintln(r.w)
	}
}

// describe returns the geolocation of an enrichment result in a single line,
// or the reason of a failed lookup.
func describe(res types.EnrichmentResult) string {
	if !res.OK() {
		reason := "no result"
		if res.Failure != nil {
			reason = res.Failure.Reason
		}
		return "error: " + reason
	}
	fields := []*string{res.Geo.City, res.Geo.Region, res.Geo.Country}
	parts := make([]string, 0, len(fields)+1)
	for _, field := range fields {
		if field == nil || *field == "" {
			parts = append(parts, "-")
			continue
		}
		parts = append(parts, *field)
	}
	if res.Geo.Loc != nil && *res.Geo.Loc != "" {
		parts = append(parts, "loc "+*res.Geo.Loc)
	}
	return strings.Join(parts, ", ")
}

// printLogged prints a single flagged address once it has been logged.
func printLogged(w io.Writer, status types.FlaggedStatus) {
	fmt.Fprintf(w, "Flagged & logged: %s -> %s\n", status.Result.Address, describe(status.Result))
}

// printSummary prints the final set of flagged addresses, including their
// reverse DNS names if known, followed by the run's figures.
func printSummary(w io.Writer, report *flagger.Report, names map[types.Address][]string, dryRun bool) {
	fmt.Fprintln(w, "\nFlagged IP addresses:")
	if len(report.Flagged) == 0 {
		fmt.Fprintln(w, "   (none)")
	}
	for _, status := range report.Flagged {
		addr := status.Result.Address
		fmt.Fprintf(w, "   %s", addr)
		if n := names[addr]; len(n) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(n, ", "))
		}
		if !status.Status.IsPending() {
			fmt.Fprintf(w, " -> %s", describe(status.Result))
		}
		fmt.Fprintln(w)
	}
	sum := report.Summary
	fmt.Fprintf(w, "packets: %d, without address: %d, undecodable: %d\n",
		report.Capture.Packets, report.Capture.WithoutAddressLayer, report.Capture.DecodeErrors)
	if dryRun {
		fmt.Fprintf(w, "observed: %d, flagged: %d (dry run, nothing logged)\n",
			sum.Observed, sum.Flagged)
		return
	}
	fmt.Fprintf(w, "observed: %d, flagged: %d, logged: %d, lookup failures: %d, write failures: %d\n",
		sum.Observed, sum.Flagged, sum.Written, sum.EnrichmentFailures, sum.WriteFailures)
	if report.Interrupted {
		fmt.Fprintln(w, "interrupted before all flagged addresses were logged")
	}
}
