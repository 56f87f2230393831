package proc

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyExited is wrapped by ShutdownError when a termination request
// finds the process already gone.
var ErrAlreadyExited = errors.New("process already exited")

// LaunchError signals that a process could not be started at all
// (missing executable, permission denied, bad working directory).
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launch %s: %v", e.Name, e.Err) }

func (e *LaunchError) Unwrap() error { return e.Err }

// StartupError signals that a process started but was no longer alive at the
// post-launch liveness check.
type StartupError struct {
	Name       string
	PID        int
	Grace      time.Duration
	ExitErr    error
	StderrTail string
}

func (e *StartupError) Error() string {
	msg := fmt.Sprintf("%s (pid %d) exited within %s of launch", e.Name, e.PID, e.Grace)
	if e.ExitErr != nil {
		msg += ": " + e.ExitErr.Error()
	}
	if e.StderrTail != "" {
		msg += "; stderr tail: " + e.StderrTail
	}
	return msg
}

func (e *StartupError) Unwrap() error { return e.ExitErr }

// ShutdownError is a non-fatal termination failure, typically a request to
// stop a process that had already exited. Callers log it and move on.
type ShutdownError struct {
	Name string
	Err  error
}

func (e *ShutdownError) Error() string { return fmt.Sprintf("stop %s: %v", e.Name, e.Err) }

func (e *ShutdownError) Unwrap() error { return e.Err }

// IsLaunchFailure reports whether err is a LaunchError.
func IsLaunchFailure(err error) bool {
	var le *LaunchError
	return errors.As(err, &le)
}

// IsStartupFailure reports whether err is a StartupError.
func IsStartupFailure(err error) bool {
	var se *StartupError
	return errors.As(err, &se)
}

// IsShutdownError reports whether err is a non-fatal ShutdownError.
func IsShutdownError(err error) bool {
	var se *ShutdownError
	return errors.As(err, &se)
}
