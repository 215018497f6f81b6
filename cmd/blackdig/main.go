// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"os"

	"github.com/siemens/blackdig/flagger"
)

func main() {
	// This is cobra boilerplate documentation, except for the missing call to
	// fmt.Println(err) which in the original boilerplate is just plain wrong:
	// it renders the error message twice, see also:
	// https://github.com/spf13/cobra/issues/304
	osExit(exitCode(newRootCmd().Execute()))
}

// For CLI unit tests...
var osExit = os.Exit

// exitCode returns the process exit code for the outcome of a run.
func exitCode(err error) int {
	var cfgerr *flagger.ConfigurationError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	case errors.As(err, &cfgerr):
		return 2
	default:
		return 1
	}
}
