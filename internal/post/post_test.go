package post

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coastalwhite/lemurs-sub000/internal/auth"
	"github.com/coastalwhite/lemurs-sub000/internal/proc"
)

func testIdentity() auth.Identity {
	return auth.Identity{
		Username: "alice",
		UID:      1000,
		GID:      1000,
		Groups:   []uint32{1000, 10},
		HomeDir:  "/home/alice",
		Shell:    "/bin/zsh",
	}
}

func TestUserCommandDropsPrivileges(t *testing.T) {
	id := testIdentity()
	cmd := userCommand(id, "/usr/bin/env")

	require.NotNil(t, cmd.SysProcAttr)
	cred := cmd.SysProcAttr.Credential
	require.NotNil(t, cred, "children must never run with our privileges")
	assert.Equal(t, uint32(1000), cred.Uid)
	assert.Equal(t, uint32(1000), cred.Gid)
	assert.Equal(t, []uint32{1000, 10}, cred.Groups)
	assert.Equal(t, "/home/alice", cmd.Dir)
}

// The login shell stays in the caller's session; a fresh session would
// leave it with no controlling terminal and no job control.
func TestUserCommandKeepsCallersSession(t *testing.T) {
	cmd := userCommand(testIdentity(), "/bin/zsh", "-l")
	require.NotNil(t, cmd.SysProcAttr)
	assert.False(t, cmd.SysProcAttr.Setsid)
}

func TestSessionLeaderGetsOwnSession(t *testing.T) {
	cmd := sessionLeader(userCommand(testIdentity(), "/etc/lemurs/wms/sway"))
	assert.True(t, cmd.SysProcAttr.Setsid)
	require.NotNil(t, cmd.SysProcAttr.Credential, "the leader keeps the dropped privileges")
}

// With a controlling terminal available, a child spawned the way the
// shell is must still be able to open /dev/tty.
func TestShellChildCanOpenControllingTerminal(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires root for the privilege-dropped spawn")
	}
	tty, err := os.Open("/dev/tty")
	if err != nil {
		t.Skip("no controlling terminal in this test environment")
	}
	_ = tty.Close()

	id := testIdentity()
	id.UID = uint32(os.Getuid())
	id.GID = uint32(os.Getgid())
	id.Groups = []uint32{uint32(os.Getgid())}
	id.HomeDir = t.TempDir()

	cmd := userCommand(id, "sh", "-c", "exec </dev/tty")
	require.NoError(t, cmd.Run())
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "shell", KindShell.String())
	assert.Equal(t, "x11", KindX.String())
	assert.Equal(t, "wayland", KindWayland.String())
}

// The client must be waited before the server is stopped; the session
// ends when the client does, taking the still-running server with it.
func TestXSessionWaitStopsServerAfterClient(t *testing.T) {
	client, err := proc.Start(exec.Command("sh", "-c", "sleep 1"))
	require.NoError(t, err)
	server, err := proc.Start(exec.Command("sleep", "30"))
	require.NoError(t, err)

	s := &Session{kind: KindX, client: client, server: server, log: zap.NewNop()}

	done := make(chan error, 1)
	go func() { done <- s.Wait() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Wait did not return; server kill order is likely inverted")
	}

	exited, err := server.TryWait()
	require.NoError(t, err)
	assert.True(t, exited, "server must be dead once Wait returns")
}

func TestSingleChildSessionWait(t *testing.T) {
	child, err := proc.Start(exec.Command("sh", "-c", "exit 0"))
	require.NoError(t, err)

	s := &Session{kind: KindWayland, client: child, log: zap.NewNop()}
	require.NoError(t, s.Wait())
}
