package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/xmatters-labs/restore-instance-data/pkg/configuration"
)

const (
	exitOK           = 0
	exitUnexpected   = 1
	exitURL          = 3
	exitCommand      = 8
	exitStageAborted = 10
	exitInterrupted  = 130
)

// statusError pins the exit status for failures whose type does not say it.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }

func (e *statusError) Unwrap() error { return e.err }

func exitWith(status int, err error) error {
	if err == nil {
		return nil
	}
	return &statusError{status: status, err: err}
}

// exitCode maps err to the process exit status. An explicit status wins,
// then the category of a configuration problem, then interruption.
func exitCode(err error) int {
	var se *statusError
	var cfgErr *configuration.Error
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &se):
		return se.status
	case errors.As(err, &cfgErr):
		return cfgErr.Category.ExitCode()
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	}
	return exitUnexpected
}
