// Package cache persists the last successful login choice: two text
// lines, environment name then username. The username is validated both
// ways because the file sits in a root-owned directory but its content
// ends up in shell-adjacent places.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// usernameRe is deliberately stricter than what the OS allows: the cache
// only has to round-trip names we wrote ourselves.
var usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

const maxUsernameLen = 32

var ErrInvalidUsername = errors.New("invalid cached username")

// Entry is the remembered choice. Username is empty when absent or
// rejected; Environment is carried independently of the username's fate.
type Entry struct {
	Environment string
	Username    string
}

// ValidUsername reports whether name may be stored in the cache.
func ValidUsername(name string) bool {
	return len(name) <= maxUsernameLen && usernameRe.MatchString(name)
}

// Load reads the cache file. A missing file yields a zero Entry. A
// username that fails validation is dropped, not fatal: the environment
// line is still honored.
func Load(path string) (Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, nil
		}
		return Entry{}, fmt.Errorf("read cache %s: %w", path, err)
	}

	var e Entry
	lines := strings.Split(string(b), "\n")
	if len(lines) > 0 {
		e.Environment = strings.TrimSpace(lines[0])
	}
	if len(lines) > 1 {
		name := strings.TrimSpace(lines[1])
		if name != "" && ValidUsername(name) {
			e.Username = name
		}
	}
	return e, nil
}

// Save writes the cache atomically. An invalid username is refused
// outright rather than silently dropped; the caller decided to persist
// it and should know it did not happen.
func Save(path string, e Entry) error {
	if e.Username != "" && !ValidUsername(e.Username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, e.Username)
	}
	data := []byte(e.Environment + "\n" + e.Username + "\n")
	return writeFileAtomic(path, data, 0o644)
}

// writeFileAtomic writes via a temp file and rename so a crash can never
// leave a half-written cache.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".lemurs-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
