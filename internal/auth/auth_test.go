package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "hunter2hunter2"

// testAuthenticator builds an authenticator over a throwaway user
// database with one user, "alice", owning the current process identity
// so session-open chown calls succeed without root.
func testAuthenticator(t *testing.T) (*Authenticator, string) {
	t.Helper()
	dir := t.TempDir()

	uid := os.Getuid()
	gid := os.Getgid()
	home := filepath.Join(dir, "home")
	require.NoError(t, os.Mkdir(home, 0o755))

	hash, err := sha512_crypt.New().Generate([]byte(testPassword), []byte("$6$lemurstest"))
	require.NoError(t, err)

	passwd := fmt.Sprintf("alice:x:%d:%d:Alice:%s:/bin/sh\n", uid, gid, home)
	shadow := fmt.Sprintf("alice:%s:19000:0:99999:7:::\nlocked:!$6$x$y:19000:0:99999:7:::\nghost:%s:19000:0:99999:7:::\n", hash, hash)
	group := fmt.Sprintf("alice:x:%d:\nwheel:x:10:alice\n", gid)

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}
	serviceDir := filepath.Join(dir, "pam.d")
	require.NoError(t, os.Mkdir(serviceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(serviceDir, "lemurs"), nil, 0o644))

	runUserDir := filepath.Join(dir, "run-user")
	require.NoError(t, os.Mkdir(runUserDir, 0o755))

	a := New(nil,
		WithPasswdPath(write("passwd", passwd)),
		WithShadowPath(write("shadow", shadow)),
		WithGroupPath(write("group", group)),
		WithServiceDir(serviceDir),
		WithRunUserDir(runUserDir),
	)
	return a, runUserDir
}

func TestAuthenticateSuccess(t *testing.T) {
	a, runUserDir := testAuthenticator(t)

	session, err := a.Authenticate("alice", testPassword, "lemurs")
	require.NoError(t, err)
	defer session.Close()

	id := session.Identity()
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, uint32(os.Getuid()), id.UID)
	assert.Contains(t, id.Groups, uint32(10), "wheel membership resolved")
	assert.Equal(t, "/bin/sh", id.Shell)

	wantDir := filepath.Join(runUserDir, fmt.Sprintf("%d", id.UID))
	assert.Equal(t, wantDir, session.RuntimeDir())
	assert.DirExists(t, wantDir)
}

func TestSessionCloseRemovesRuntimeDir(t *testing.T) {
	a, _ := testAuthenticator(t)

	session, err := a.Authenticate("alice", testPassword, "lemurs")
	require.NoError(t, err)

	dir := session.RuntimeDir()
	session.Close()
	assert.NoDirExists(t, dir)

	// Idempotent.
	session.Close()
}

// Wrong credentials must fail identically whether or not the username
// exists, so the prompt cannot be used to enumerate accounts.
func TestAuthenticateDoesNotRevealUsernames(t *testing.T) {
	a, _ := testAuthenticator(t)

	tests := []struct {
		name     string
		username string
	}{
		{"existing user, wrong password", "alice"},
		{"nonexistent user", "mallory"},
		{"locked account", "locked"},
		{"empty username", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(tt.username, "wrongpass", "lemurs")
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestAuthenticateInvalidService(t *testing.T) {
	a, _ := testAuthenticator(t)

	_, err := a.Authenticate("alice", testPassword, "")
	assert.ErrorIs(t, err, ErrInvalidService)

	_, err = a.Authenticate("alice", testPassword, "no-such-service")
	assert.ErrorIs(t, err, ErrInvalidService)
}

// "ghost" validates against shadow but has no passwd entry: the
// anomalous post-validation miss.
func TestAuthenticateUsernameNotFound(t *testing.T) {
	a, _ := testAuthenticator(t)

	_, err := a.Authenticate("ghost", testPassword, "lemurs")
	assert.ErrorIs(t, err, ErrUsernameNotFound)
}

func TestVerifyCryptUnsupportedHash(t *testing.T) {
	for _, hash := range []string{"$y$j9T$salt$hash", "$2b$10$abcdefghijk", "$7$salt$hash"} {
		_, err := verifyCrypt(hash, "whatever")
		assert.ErrorIs(t, err, errUnsupportedHash, hash)
	}
}
