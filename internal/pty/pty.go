// Package pty wraps a shell process running behind a pseudo-terminal.
//
// The wrapper owns the output read loop and the exit wait loop; callers
// subscribe via the OnOutput and OnExit callbacks and are otherwise isolated
// from the underlying file descriptor. Broadcast to multiple consumers is the
// subscriber's concern, not this package's.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// DefaultReadBufferSize is the buffer size for reading PTY output.
const DefaultReadBufferSize = 4096

// StartOptions contains options for starting a PTY-backed process.
type StartOptions struct {
	// Shell is the binary to execute. Required.
	Shell string

	// Args are passed to the shell.
	Args []string

	// Dir is the working directory. If empty, the current directory is used.
	Dir string

	// Env is the process environment. If nil, the relay's own environment
	// is inherited.
	Env []string

	// Cols and Rows set the initial terminal size. Zero values default to
	// 80x24.
	Cols uint16
	Rows uint16

	// OnOutput is invoked from the read loop for every chunk the process
	// writes, in arrival order.
	OnOutput func(data []byte)

	// OnExit is invoked exactly once when the process exits, with the
	// error from Wait (nil on clean exit).
	OnExit func(err error)
}

// Process is a running PTY-backed process. It is exclusively owned by its
// creator; Write, Resize and Close are safe for concurrent use.
type Process struct {
	cmd    *exec.Cmd
	master *os.File

	mu     sync.Mutex
	closed bool
}

// Start spawns the process behind a new pseudo-terminal and begins pumping
// its output.
func Start(opts StartOptions) (*Process, error) {
	if opts.Shell == "" {
		return nil, fmt.Errorf("shell is required")
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}

	cmd := exec.Command(opts.Shell, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: opts.Cols,
		Rows: opts.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}

	p := &Process{cmd: cmd, master: master}

	go p.readLoop(opts.OnOutput)
	go p.waitLoop(opts.OnExit)

	return p, nil
}

// readLoop pumps process output to the subscriber until EOF.
func (p *Process) readLoop(onOutput func([]byte)) {
	buf := make([]byte, DefaultReadBufferSize)
	for {
		n, err := p.master.Read(buf)
		if n > 0 && onOutput != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onOutput(chunk)
		}
		if err != nil {
			// EOF, or EIO once the slave side goes away.
			return
		}
	}
}

// waitLoop reaps the process and notifies the subscriber.
func (p *Process) waitLoop(onExit func(error)) {
	err := p.cmd.Wait()
	if onExit != nil {
		onExit(err)
	}
}

// Write writes data to the process's terminal input.
func (p *Process) Write(data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("process is closed")
	}
	p.mu.Unlock()

	if _, err := p.master.Write(data); err != nil {
		return fmt.Errorf("failed to write to pty: %w", err)
	}
	return nil
}

// Resize changes the terminal window size.
func (p *Process) Resize(cols, rows uint16) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("process is closed")
	}
	p.mu.Unlock()

	return pty.Setsize(p.master, &pty.Winsize{Cols: cols, Rows: rows})
}

// Close kills the process and releases the terminal. It is idempotent.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var firstErr error
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.master.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// PID returns the process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
