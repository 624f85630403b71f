package xwalk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command describes how to launch the engine: Path run with Args.
type Command struct {
	Env  []string // extra KEY=VALUE pairs appended to the host environment
	Path string   // interpreter or executable, resolved through PATH
	Dir  string   // working directory; empty means the host's
	Args []string // typically the engine script
}

// String returns the command line as it would be typed.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Launcher is the narrow interface over the OS process used by the Supervisor.
type Launcher interface {
	// Launch starts cmd with its stdout and stderr written to the given
	// writers as chunks arrive. It returns once the process is running, or
	// a *SpawnError if it could not be started.
	Launch(ctx context.Context, cmd Command, stdout, stderr io.Writer) (Process, error)
}

// Process is a running engine instance.
type Process interface {
	// Wait blocks until the process exits and all of its output has been
	// written, then returns its exit code. A non-zero exit code is not an
	// error; err reports only failures to observe the process.
	Wait() (code int, err error)

	// Kill terminates the process. It is safe to call after exit.
	Kill() error
}

// ExecLauncher implements Launcher with os/exec.
type ExecLauncher struct{}

// Launch starts cmd via exec.Command. The process is not tied to ctx; the
// Supervisor ends it explicitly with Kill.
func (ExecLauncher) Launch(ctx context.Context, cmd Command, stdout, stderr io.Writer) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Path: cmd.Path, Args: cmd.Args, Err: err}
	}

	//nolint:gosec // the engine command comes from operator configuration
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}
	c.Stdout = stdout
	c.Stderr = stderr

	if err := c.Start(); err != nil {
		return nil, &SpawnError{Path: cmd.Path, Args: cmd.Args, Err: err}
	}
	return &execProcess{cmd: c}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed by a signal reports -1 here; keep it, the exit is still an exit.
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait for engine: %w", err)
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill engine: %w", err)
	}
	return nil
}
