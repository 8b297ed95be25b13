// Package workio runs the protocol side of the miner: the orchestrator
// serializing get-work and submit-work commands against HTTP pools, the
// long-poll and ZMQ block notifiers, the stratum runner, and the
// supervisor restarting them on every pool switch.
package workio

import (
	"fmt"

	"github.com/bardlex/gominer/pkg/errors"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitUsage       = 1
	ExitPoolTimeout = 2
	ExitInitError   = 3
	ExitNoProtocol  = 4
	ExitTimeLimit   = 0
)

// ExitError ends the run with Code
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return fmt.Sprintf("exit %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps err to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, errors.ErrNoProtocol) {
		return ExitNoProtocol
	}
	if errors.IsType(err, errors.ErrorTypeConfig) {
		return ExitUsage
	}
	return ExitInitError
}
