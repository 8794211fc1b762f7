package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	defaultShell     = "sh"
	defaultWaitDelay = 2 * time.Second
)

// Command is a single step invocation
type Command struct {
	// Script is handed to the shell with -c.
	Script string

	// Dir is the working directory.
	Dir string

	// Env holds KEY=VALUE pairs added on top of the inherited environment.
	Env []string
}

// ExecResult is the outcome of a command that ran to completion
type ExecResult struct {
	ExitCode int
	Output   []byte
}

// Executor runs step commands. A non-zero exit code is reported in the
// result; an error means the command could not run or was aborted.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (*ExecResult, error)
}

// ShellExecutor runs commands through a POSIX shell in their own process
// group so an aborted step takes its children down with it.
type ShellExecutor struct {
	Shell string

	// WaitDelay bounds how long output pipes stay open once the shell has
	// exited or been killed. Processes that left the group, or were started
	// in the background, may hold them indefinitely.
	WaitDelay time.Duration
}

// NewShellExecutor creates an executor for the given shell (default sh)
func NewShellExecutor(shell string) *ShellExecutor {
	if shell == "" {
		shell = defaultShell
	}
	return &ShellExecutor{Shell: shell, WaitDelay: defaultWaitDelay}
}

// Execute runs cmd and captures combined stdout/stderr
func (e *ShellExecutor) Execute(ctx context.Context, cmd Command) (*ExecResult, error) {
	if cmd.Script == "" {
		return nil, fmt.Errorf("command is empty")
	}

	shell := e.Shell
	if shell == "" {
		shell = defaultShell
	}

	c := exec.Command(shell, "-c", cmd.Script)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.WaitDelay = e.WaitDelay
	if c.WaitDelay <= 0 {
		c.WaitDelay = defaultWaitDelay
	}

	output := &lockedBuffer{}
	c.Stdout = output
	c.Stderr = output

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		// negative pid signals the whole process group
		_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
		<-done
		return &ExecResult{ExitCode: -1, Output: output.Bytes()}, fmt.Errorf("execution aborted: %w", ctx.Err())
	case err = <-done:
	}

	exitCode := 0
	// the shell exited cleanly; something it left behind held the pipes
	if errors.Is(err, exec.ErrWaitDelay) {
		err = nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &ExecResult{ExitCode: exitCode, Output: output.Bytes()}, nil
}

// lockedBuffer lets stdout and stderr share one buffer
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
