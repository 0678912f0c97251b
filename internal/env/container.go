// Package env owns the process environment for the duration of one login
// session: a snapshot taken before anything is touched, setters that record
// ownership, and a restore pass that undoes exactly what this process did.
package env

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// Container holds the pre-session environment snapshot and the set of
// variables this process asserted. One container exists per login attempt;
// Restore must run on every exit path.
type Container struct {
	snapshot map[string]string
	cwd      string
	owned    map[string]string
	restored bool
	log      *zap.Logger
}

// TakeSnapshot captures every inherited variable and the working directory.
// Call it once, before any setter.
func TakeSnapshot(log *zap.Logger) *Container {
	if log == nil {
		log = zap.NewNop()
	}
	snap := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		snap[k] = v
	}
	cwd, err := os.Getwd()
	if err != nil {
		log.Warn("snapshot: cannot determine working directory", zap.Error(err))
	}
	return &Container{
		snapshot: snap,
		cwd:      cwd,
		owned:    make(map[string]string),
		log:      log,
	}
}

// Set unconditionally writes the variable and records it as owned.
func (c *Container) Set(key, value string) {
	if err := os.Setenv(key, value); err != nil {
		c.log.Warn("setenv failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.owned[key] = value
}

// SetOrOwn writes the variable only if it is currently absent. The live
// value is recorded as owned either way, so a pre-existing value becomes
// subject to removal at restore even though we never wrote it. That
// matches the historical behaviour callers rely on for vars like PATH.
func (c *Container) SetOrOwn(key, value string) {
	if live, ok := os.LookupEnv(key); ok {
		c.owned[key] = live
		return
	}
	c.Set(key, value)
}

// SetCurrentDir changes the working directory. The rollback target is
// recorded even when the chdir fails, preserving long-standing behaviour.
func (c *Container) SetCurrentDir(dir string) {
	if err := os.Chdir(dir); err != nil {
		c.log.Warn("chdir failed", zap.String("dir", dir), zap.Error(err))
	}
}

// Restore undoes the session's environment changes in order: owned
// variables first, then any snapshot variable that went missing, then the
// working directory. A variable whose live value no longer matches what we
// recorded was changed by somebody else and is left alone. Restore never
// fails; errors are logged and skipped. It is idempotent.
func (c *Container) Restore() {
	if c.restored {
		return
	}
	c.restored = true

	for key, recorded := range c.owned {
		live, ok := os.LookupEnv(key)
		if !ok || live != recorded {
			continue
		}
		if err := os.Unsetenv(key); err != nil {
			c.log.Warn("restore: unsetenv failed", zap.String("key", key), zap.Error(err))
		}
	}
	for key, value := range c.snapshot {
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			c.log.Warn("restore: setenv failed", zap.String("key", key), zap.Error(err))
		}
	}
	if c.cwd != "" {
		if err := os.Chdir(c.cwd); err != nil {
			c.log.Warn("restore: chdir failed", zap.String("dir", c.cwd), zap.Error(err))
		}
	}
}
