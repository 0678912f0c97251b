package proc

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggedChildNeverExceedsCap(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "child.log")
	// ~5KB of output against a 512 byte cap.
	cmd := exec.Command("sh", "-c",
		"i=0; while [ $i -lt 200 ]; do echo abcdefghijklmnopqrstuvwxy; i=$((i+1)); done")

	child, err := StartLogged(cmd, logPath, 512, nil)
	require.NoError(t, err)
	require.NoError(t, child.Wait())

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(512))
	assert.Equal(t, int64(512), info.Size(), "output beyond the cap is discarded, not blocked")
}

func TestLoggedChildCapturesBothStreams(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "child.log")
	cmd := exec.Command("sh", "-c", "echo out-line; echo err-line >&2")

	child, err := StartLogged(cmd, logPath, 1<<20, nil)
	require.NoError(t, err)
	require.NoError(t, child.Wait())

	// Wait joined the pump, so everything the child wrote is on disk.
	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "out-line")
	assert.Contains(t, string(b), "err-line")
}

func TestWaitReportsNonzeroExitAsOutcome(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "child.log")
	cmd := exec.Command("sh", "-c", "exit 7")

	child, err := StartLogged(cmd, logPath, 1<<20, nil)
	require.NoError(t, err)
	require.NoError(t, child.Wait(), "a nonzero exit is not a supervision error")
	assert.Equal(t, 7, child.ExitCode())
}

// An unopenable log path must not cost the child its stdout: the session
// keeps running and its output is dropped, not fed back as SIGPIPE.
func TestPumpFailureDiscardsOutputWithoutKillingChild(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "no-such-dir", "child.log")
	// Well past the 64KB pipe buffer, so a closed or unread pipe would
	// kill or block the child.
	cmd := exec.Command("sh", "-c",
		"i=0; while [ $i -lt 4000 ]; do echo abcdefghijklmnopqrstuvwxy; i=$((i+1)); done")

	child, err := StartLogged(cmd, logPath, 1<<20, nil)
	require.NoError(t, err)
	require.NoError(t, child.Wait())
	assert.Equal(t, 0, child.ExitCode())
}

func TestTryWaitReapsExitedChild(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 5")
	cmd.Stdout = nil
	cmd.Stderr = nil

	child, err := Start(cmd)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exited, err := child.TryWait()
		return err == nil && exited
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 5, child.ExitCode())

	// Subsequent calls stay positive without touching the reaped pid.
	exited, err := child.TryWait()
	require.NoError(t, err)
	assert.True(t, exited)
}

func TestTryWaitOnRunningChild(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	child, err := Start(cmd)
	require.NoError(t, err)

	exited, err := child.TryWait()
	require.NoError(t, err)
	assert.False(t, exited)

	require.NoError(t, child.Kill())
}

func TestKillIsSafeOnExitedChild(t *testing.T) {
	cmd := exec.Command("true")
	child, err := Start(cmd)
	require.NoError(t, err)
	require.NoError(t, child.Wait())
	require.NoError(t, child.Kill())
}

func TestLoggedChildDrainsOnKill(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "child.log")
	// Emit a line immediately, then hang.
	cmd := exec.Command("sh", "-c", "echo before-hang; sleep 30")

	child, err := StartLogged(cmd, logPath, 1<<20, nil)
	require.NoError(t, err)

	// Give the child a moment to produce the line.
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(logPath)
		return err == nil && strings.Contains(string(b), "before-hang")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, child.Kill())

	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "before-hang")
}
