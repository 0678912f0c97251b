package userdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPasswd(t *testing.T) {
	path := writeTemp(t, "passwd", `root:x:0:0:root:/root:/bin/bash
# locally managed below
alice:x:1000:1000:Alice:/home/alice:/bin/zsh
broken line without fields
daemon:x:1:1::/usr/sbin:/usr/sbin/nologin
`)

	pw, err := LoadPasswd(path)
	require.NoError(t, err)

	alice := pw.Find("alice")
	require.NotNil(t, alice)
	assert.Equal(t, uint32(1000), alice.UID)
	assert.Equal(t, uint32(1000), alice.GID)
	assert.Equal(t, "/home/alice", alice.Home)
	assert.Equal(t, "/bin/zsh", alice.Shell)

	assert.Nil(t, pw.Find("bob"))
}

func TestLoadShadowPadsShortLines(t *testing.T) {
	path := writeTemp(t, "shadow", "alice:$6$salt$hash:19000\n")

	sh, err := LoadShadow(path)
	require.NoError(t, err)

	e := sh.Find("alice")
	require.NotNil(t, e)
	assert.Equal(t, "$6$salt$hash", e.Hash)
	assert.Equal(t, "19000", e.LastChange)
	assert.Empty(t, e.Expire)
}

func TestSupplementaryGroups(t *testing.T) {
	path := writeTemp(t, "group", `alice:x:1000:
wheel:x:10:alice,bob
audio:x:63:bob
video:x:39:alice
`)

	gf, err := LoadGroup(path)
	require.NoError(t, err)

	gids := gf.SupplementaryGroups("alice", 1000)
	assert.Equal(t, []uint32{1000, 10, 39}, gids, "primary gid first, then memberships in file order")

	assert.Equal(t, []uint32{500}, gf.SupplementaryGroups("nobody", 500))
}
