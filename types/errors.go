// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package types

import "fmt"

// ConfigurationError reports that a resource essential to a run, such as the
// blacklist, is missing or unreadable. Configuration errors are fatal: the
// run gets aborted before any capture data is processed.
type ConfigurationError struct {
	Resource string // "blacklist", "capture", "audit log", ...
	Path     string
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("cannot use %s %q: %s", e.Resource, e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
