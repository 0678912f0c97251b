// Package proc spawns and supervises session children. A logged child
// carries a pump goroutine that drains its stdout/stderr into a capped
// log file without ever applying backpressure to the child.
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Child is a spawned session process. Wait and Kill join the pump before
// returning, so a caller never observes an exited child with output still
// in flight.
type Child struct {
	cmd  *exec.Cmd
	pump *pump

	reaped   bool
	exitCode int
	waitErr  error
}

// Start spawns cmd with whatever stdio the caller configured. Used for
// the shell environment, which inherits the controlling terminal.
func Start(cmd *exec.Cmd) (*Child, error) {
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	return &Child{cmd: cmd}, nil
}

// StartLogged spawns cmd with stdout and stderr redirected into pipes and
// a pump goroutine draining both into logPath, capped at maxBytes per
// child. Bytes beyond the cap are discarded, not blocked on.
func StartLogged(cmd *exec.Cmd, logPath string, maxBytes int64, log *zap.Logger) (*Child, error) {
	if log == nil {
		log = zap.NewNop()
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	// The child holds the write ends now; keeping ours open would stop
	// the pump from ever seeing EOF.
	closeAll(outW, errW)

	child := &Child{cmd: cmd}
	p, err := startPump(outR, errR, logPath, maxBytes, log, func() {
		_ = cmd.Process.Kill()
	})
	if err != nil {
		log.Warn("log pump unavailable, child output discarded", zap.Error(err))
		// The read ends must stay open and drained: closing them would
		// feed the child SIGPIPE on its next write.
		for _, f := range []*os.File{outR, errR} {
			_ = unix.SetNonblock(int(f.Fd()), false)
			go discardPipe(f)
		}
		return child, nil
	}
	child.pump = p
	return child, nil
}

// Pid returns the child's process id.
func (c *Child) Pid() int { return c.cmd.Process.Pid }

// Wait blocks until the child exits, then stops and joins the pump. The
// pump drains anything left in the half-closed pipes before Wait returns.
func (c *Child) Wait() error {
	if !c.reaped {
		err := c.cmd.Wait()
		c.reaped = true
		c.waitErr = err
		if c.cmd.ProcessState != nil {
			c.exitCode = c.cmd.ProcessState.ExitCode()
		}
	}
	if c.pump != nil {
		c.pump.stop()
	}
	var exitErr *exec.ExitError
	if errors.As(c.waitErr, &exitErr) {
		// A nonzero exit is a session outcome, not a supervision error.
		return nil
	}
	return c.waitErr
}

// Kill terminates the child and reaps it. Safe to call on an already
// exited child.
func (c *Child) Kill() error {
	if !c.reaped {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill pid %d: %w", c.Pid(), err)
		}
	}
	return c.Wait()
}

// TryWait reaps the child if it has already exited, without blocking.
// Returns true when the child is gone; the pump, if any, is joined before
// returning true. Used by the X readiness poll.
func (c *Child) TryWait() (bool, error) {
	if c.reaped {
		return true, nil
	}
	var ws unix.WaitStatus
	pid, err := unix.Wait4(c.Pid(), &ws, unix.WNOHANG, nil)
	if err != nil {
		return false, fmt.Errorf("wait4 pid %d: %w", c.Pid(), err)
	}
	if pid == 0 {
		return false, nil
	}
	c.reaped = true
	c.exitCode = ws.ExitStatus()
	// The exec.Cmd can no longer be waited on; drop its handle so a
	// stray Wait does not signal a recycled pid.
	_ = c.cmd.Process.Release()
	if c.pump != nil {
		c.pump.stop()
	}
	return true, nil
}

// ExitCode is valid once Wait, Kill, or a positive TryWait returned.
func (c *Child) ExitCode() int { return c.exitCode }

// discardPipe drains a pipe until the child closes its end.
func discardPipe(f *os.File) {
	defer func() { _ = f.Close() }()
	buf := make([]byte, 4096)
	for {
		if _, err := f.Read(buf); err != nil {
			return
		}
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
