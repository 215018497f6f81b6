// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package main

import "github.com/muesli/termenv"

// styles for rendering flagged addresses according to their enrichment status.
type styles struct {
	pending  termenv.Style
	enriched termenv.Style
	failed   termenv.Style
	heading  termenv.Style
}

// newStyles returns the styles for the specified color profile; the Ascii
// profile renders everything unstyled.
func newStyles(p termenv.Profile) styles {
	return styles{
		pending:  p.String().Foreground(p.Convert(termenv.ANSIYellow)),
		enriched: p.String().Foreground(p.Convert(termenv.ANSIGreen)),
		failed:   p.String().Foreground(p.Convert(termenv.ANSIRed)),
		heading:  p.String().Bold(),
	}
}
