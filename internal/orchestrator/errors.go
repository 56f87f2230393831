package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrInterrupted is returned by Run when a termination request arrives
	// before the Running state was reached.
	ErrInterrupted = errors.New("interrupted before running")
	// ErrUnexpectedExit marks a managed process that died while Running.
	ErrUnexpectedExit = errors.New("process exited unexpectedly")
	// ErrAlreadyRun is returned by a second call to Run.
	ErrAlreadyRun = errors.New("orchestrator already ran")

	errStopping = errors.New("shutdown in progress")
)

// Stage names the bring-up step that failed.
type Stage string

const (
	StageProvision           Stage = "provision"
	StageDependencyLaunch    Stage = "dependency-launch"
	StageDependencyReadiness Stage = "dependency-readiness"
	StageModelFetch          Stage = "model-fetch"
	StageForegroundLaunch    Stage = "foreground-launch"
	StageForegroundStartup   Stage = "foreground-startup"
	StageRunning             Stage = "running"
)

// StageError is a fatal error tagged with the stage it aborted.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s failed: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage carried by err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Process exit codes.
const (
	ExitOK          = 0
	ExitFatal       = 1
	ExitInterrupted = 130
)

// ExitCode maps a Run result to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInterrupted):
		return ExitInterrupted
	default:
		return ExitFatal
	}
}
