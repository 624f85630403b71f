package xwalk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSpawnFailed is returned when the engine executable cannot be started.
var ErrSpawnFailed = errors.New("engine spawn failed")

// ErrPersistFailed is returned when a hazard alert could not be written to the sink.
var ErrPersistFailed = errors.New("alert persist failed")

// ErrEngineExited is reported when a running engine terminates, whatever its exit code.
var ErrEngineExited = errors.New("engine exited")

// ErrGaveUp is returned when the restart policy's attempt budget is exhausted.
var ErrGaveUp = errors.New("restart attempts exhausted")

// ErrAlreadyStarted is returned when Start is called on a supervisor that is already running.
var ErrAlreadyStarted = errors.New("supervisor already started")

// SpawnError describes a failed launch of the engine. Path is the configured
// executable, not the resolved one, so operators can see what was asked for.
type SpawnError struct {
	Err  error
	Path string
	Args []string
}

func (e *SpawnError) Error() string {
	cmd := e.Path
	if len(e.Args) > 0 {
		cmd += " " + strings.Join(e.Args, " ")
	}
	return fmt.Sprintf("%s: %q: %v", ErrSpawnFailed, cmd, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawnFailed, e.Err}
}

// PersistError carries the alert that was lost together with the sink's error.
type PersistError struct {
	Err   error
	Alert Alert
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: alert %s for %s: %v", ErrPersistFailed, e.Alert.ID, e.Alert.ImageURL, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *PersistError) Unwrap() []error {
	return []error{ErrPersistFailed, e.Err}
}
