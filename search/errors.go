// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package search

import "fmt"

// ConfigurationError is returned when a search is described with
// contradictory or unsupported settings. It is always reported before
// any external process is started.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// ExecutableNotFoundError is returned when a backend program cannot
// be resolved on the host.
type ExecutableNotFoundError struct {
	Name string
	Err  error
}

func (e *ExecutableNotFoundError) Error() string {
	return fmt.Sprintf("executable %q not found: %v", e.Name, e.Err)
}

func (e *ExecutableNotFoundError) Unwrap() error { return e.Err }

// Configf returns a *ConfigurationError with a formatted message.
func Configf(format string, args ...interface{}) error {
	return configErrorf(format, args...)
}
