package cli

import (
	"errors"

	"villagecash/internal/core"
)

// Exit codes for the villagecash CLI.
const (
	ExitSuccess    = 0
	ExitFailure    = 1 // Runtime or configuration failure
	ExitRejected   = 2 // Record rejected: invalid or a second entry for a day
	ExitNotFound   = 3
	ExitUnavailable = 4 // Backend unreachable
)

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrDuplicateDate):
		return ExitRejected
	case errors.Is(err, core.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, core.ErrTransport):
		return ExitUnavailable
	default:
		return ExitFailure
	}
}
