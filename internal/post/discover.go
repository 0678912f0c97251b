package post

import (
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Discover enumerates the selectable environments: every executable,
// UTF-8-named entry of the X and Wayland script directories, plus the
// always-available login shell. Entries failing the filter are skipped
// with a warning, not fatal; a login manager with zero environments must
// still offer the shell.
func Discover(cfg DiscoverConfig, log *zap.Logger) []Environment {
	if log == nil {
		log = zap.NewNop()
	}
	var envs []Environment
	envs = append(envs, scanDir(cfg.XScriptsDir, KindX, log)...)
	envs = append(envs, scanDir(cfg.WaylandScriptsDir, KindWayland, log)...)
	envs = append(envs, Environment{Kind: KindShell, Name: "shell"})
	return envs
}

// DiscoverConfig names the two script directories.
type DiscoverConfig struct {
	XScriptsDir       string
	WaylandScriptsDir string
}

func scanDir(dir string, kind Kind, log *zap.Logger) []Environment {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("cannot read session scripts directory",
			zap.String("dir", dir), zap.Error(err))
		return nil
	}

	var envs []Environment
	for _, entry := range entries {
		name := entry.Name()
		if !utf8.ValidString(name) {
			log.Warn("skipping session script with non-UTF-8 name", zap.String("dir", dir))
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Warn("cannot stat session script", zap.String("name", name), zap.Error(err))
			continue
		}
		if info.IsDir() || info.Mode()&0o111 == 0 {
			log.Warn("skipping non-executable session script",
				zap.String("name", name), zap.String("dir", dir))
			continue
		}
		envs = append(envs, Environment{
			Kind:       kind,
			Name:       name,
			ScriptPath: filepath.Join(dir, name),
		})
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Name < envs[j].Name })
	return envs
}
