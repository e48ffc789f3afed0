package relay

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Backend wraps the privileged backend subprocess with access to its pipes.
type Backend struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// StartBackend launches `<path> rpc` and returns handles to its pipes.
// When dbPath is non-empty the backend is pointed at that database.
func StartBackend(path, dbPath string) (*Backend, error) {
	args := []string{"rpc"}
	if dbPath != "" {
		args = append(args, "--db", dbPath)
	}
	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	// Backend diagnostics pass straight through to our stderr.
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting backend %q: %w", path, err)
	}

	return &Backend{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
	}, nil
}

// Wait waits for the backend to exit.
func (b *Backend) Wait() error {
	return b.cmd.Wait()
}

// Terminate asks the backend to exit and escalates to a kill after a grace
// period if it does not.
func (b *Backend) Terminate(grace time.Duration) error {
	if b.cmd.Process == nil {
		return nil
	}
	if err := b.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return b.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- b.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		return b.Kill()
	}
}

// Kill terminates the backend immediately.
func (b *Backend) Kill() error {
	if b.cmd.Process != nil {
		return b.cmd.Process.Kill()
	}
	return nil
}

// Alive reports whether the backend process is still running.
func (b *Backend) Alive() bool {
	if b.cmd.Process == nil {
		return false
	}
	if b.cmd.ProcessState != nil {
		return false
	}
	return b.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Stdin returns the write end of the backend stdin.
func (b *Backend) Stdin() io.WriteCloser { return b.stdin }

// Stdout returns the read end of the backend stdout.
func (b *Backend) Stdout() io.ReadCloser { return b.stdout }
