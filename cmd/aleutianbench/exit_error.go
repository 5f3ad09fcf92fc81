// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import "fmt"

// ExitError carries a process exit code out of a command.
//
// Err may be nil when the command already reported its outcome and only
// the exit code remains, as with a failed regression gate in JSON mode.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the wrapped error's message, or the exit code.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit %d", e.Code)
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// withCode wraps err with an exit code. A success code with a nil error
// returns nil.
func withCode(code int, err error) error {
	if code == CLIExitSuccess && err == nil {
		return nil
	}
	if code == CLIExitSuccess {
		code = CLIExitError
	}
	return &ExitError{Code: code, Err: err}
}
