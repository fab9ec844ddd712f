package main

import "errors"

// statusError carries the exit status execgate terminates with.
// Denials and usage errors pick their own codes; a failed command's
// child code travels through unchanged, so scripts behind the gateway
// see the same status they would without it.
type statusError struct {
	err  error
	code int
}

func (e statusError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e statusError) Unwrap() error { return e.err }

// withExitCode tags err with the status execgate should exit with.
// Success never travels as an error, and a zero code still exits 1.
func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return statusError{err: err, code: code}
}

// exitCodeForError maps an error chain to the process exit status:
// 0 for nil, the tagged code where one exists, 1 otherwise.
func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var tagged statusError
	if errors.As(err, &tagged) && tagged.code != 0 {
		return tagged.code
	}
	return 1
}
