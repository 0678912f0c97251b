package post

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverFiltersExecutableBit(t *testing.T) {
	xDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(xDir, "sway"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(xDir, "i3"), []byte("#!/bin/sh\n"), 0o644))

	envs := Discover(DiscoverConfig{XScriptsDir: xDir}, nil)

	var xEnvs []Environment
	for _, e := range envs {
		if e.Kind == KindX {
			xEnvs = append(xEnvs, e)
		}
	}
	require.Len(t, xEnvs, 1)
	assert.Equal(t, "sway", xEnvs[0].Name)
	assert.Equal(t, filepath.Join(xDir, "sway"), xEnvs[0].ScriptPath)
}

func TestDiscoverAlwaysOffersShell(t *testing.T) {
	envs := Discover(DiscoverConfig{}, nil)
	require.Len(t, envs, 1)
	assert.Equal(t, KindShell, envs[0].Kind)
	assert.Equal(t, "shell", envs[0].Name)
}

func TestDiscoverSkipsDirectories(t *testing.T) {
	wlDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(wlDir, "subdir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wlDir, "river"), []byte("#!/bin/sh\n"), 0o755))

	envs := Discover(DiscoverConfig{WaylandScriptsDir: wlDir}, nil)

	var wl []Environment
	for _, e := range envs {
		if e.Kind == KindWayland {
			wl = append(wl, e)
		}
	}
	require.Len(t, wl, 1)
	assert.Equal(t, "river", wl[0].Name)
}

func TestDiscoverMissingDirIsNotFatal(t *testing.T) {
	envs := Discover(DiscoverConfig{
		XScriptsDir:       "/does/not/exist",
		WaylandScriptsDir: "/also/missing",
	}, nil)
	require.Len(t, envs, 1)
	assert.Equal(t, KindShell, envs[0].Kind)
}

func TestKindSessionType(t *testing.T) {
	assert.Equal(t, "x11", KindX.SessionType())
	assert.Equal(t, "wayland", KindWayland.SessionType())
	assert.Equal(t, "tty", KindShell.SessionType())
}
