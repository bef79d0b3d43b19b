package main

import (
	"errors"

	bqerrors "github.com/odvcencio/batchq/pkg/errors"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitConfig   = 2
	exitDenied   = 3
	exitCanceled = 130
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// exitCodeForError prefers an explicit exit code, then maps structured error
// codes: configuration problems exit 2 and refused permissions exit 3.
func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	switch bqerrors.GetCode(err) {
	case bqerrors.ErrCodeConfigLoad, bqerrors.ErrCodeConfigParse, bqerrors.ErrCodeConfigInvalid:
		return exitConfig
	case bqerrors.ErrCodePermissionDenied:
		return exitDenied
	}
	return exitFailure
}
