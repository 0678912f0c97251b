// Package vt activates kernel virtual terminals through the console
// device ioctl interface.
package vt

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Console device candidates, tried in order. /dev/console is the
// canonical choice but is not always bound to the active VT multiplexer.
var consolePaths = []string{"/dev/console", "/dev/tty0", "/dev/tty"}

var ErrNoConsole = errors.New("no usable console device")

// VT ioctl request numbers from linux/vt.h; x/sys/unix does not export them.
const (
	vtActivate   = 0x5606 // VT_ACTIVATE
	vtWaitActive = 0x5607 // VT_WAITACTIVE
)

// Activate switches the display to the given VT and waits until the
// switch has completed. Requires the process to own a console fd, which
// a login manager started from an initscript does.
func Activate(tty int) error {
	f, err := openConsole()
	if err != nil {
		return err
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.IoctlSetInt(fd, vtActivate, tty); err != nil {
		return fmt.Errorf("VT_ACTIVATE %d: %w", tty, err)
	}
	if err := unix.IoctlSetInt(fd, vtWaitActive, tty); err != nil {
		return fmt.Errorf("VT_WAITACTIVE %d: %w", tty, err)
	}
	return nil
}

func openConsole() (*os.File, error) {
	var lastErr error
	for _, path := range consolePaths {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err == nil {
			return f, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrNoConsole, lastErr)
}
