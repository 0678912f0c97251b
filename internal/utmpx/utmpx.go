// Package utmpx maintains the login-accounting database. Records are
// written in USER_PROCESS/DEAD_PROCESS pairs keyed by a terminal-derived
// id; an unmatched USER_PROCESS entry claims a login that no longer
// exists, so the pair discipline is not optional.
package utmpx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultPath is the active-logins database on modern Linux.
const DefaultPath = "/run/utmp"

// ut_type values from utmpx(5). Only the two the login path needs.
const (
	typeUserProcess int16 = 7
	typeDeadProcess int16 = 8
)

const (
	lineSize = 32
	nameSize = 32
	hostSize = 256
	idSize   = 4
)

// entry matches the glibc struct utmp layout (384 bytes, native-endian;
// little-endian assumed, matching every platform this runs on).
type entry struct {
	Type    int16
	Pad     int16
	Pid     int32
	Line    [lineSize]byte
	ID      [idSize]byte
	User    [nameSize]byte
	Host    [hostSize]byte
	Exit    [4]byte
	Session int32
	TvSec   int32
	TvUsec  int32
	AddrV6  [4]int32
	Unused  [20]byte
}

const entrySize = 384

// Record is one open accounting entry. Close writes the matching
// DEAD_PROCESS record; the handle must outlive the session's pid.
type Record struct {
	path      string
	id        [idSize]byte
	log       *zap.Logger
	closeOnce sync.Once
}

// Add writes a USER_PROCESS record for the session and returns its
// handle. The id is derived from the tty number, the line is "ttyN".
func Add(path, username string, tty, pid int, log *zap.Logger) (*Record, error) {
	if path == "" {
		path = DefaultPath
	}
	if log == nil {
		log = zap.NewNop()
	}

	var e entry
	e.Type = typeUserProcess
	e.Pid = int32(pid)
	copy(e.Line[:], fmt.Sprintf("tty%d", tty))
	copy(e.ID[:], fmt.Sprintf("%d", tty))
	copy(e.User[:], username)
	now := time.Now()
	e.TvSec = int32(now.Unix())
	e.TvUsec = int32(now.UnixMicro() % 1e6)

	if err := put(path, &e); err != nil {
		return nil, fmt.Errorf("utmpx add: %w", err)
	}
	log.Info("utmpx entry written",
		zap.String("user", username), zap.Int("tty", tty), zap.Int("pid", pid))
	return &Record{path: path, id: e.ID, log: log}, nil
}

// Close writes the paired DEAD_PROCESS record. User, line and timestamp
// are zeroed regardless of the original entry, matching what init(8)
// writes on logout. Idempotent; failures are logged, not returned, since
// Close runs on teardown paths that must not abort.
func (r *Record) Close() {
	r.closeOnce.Do(func() {
		var e entry
		e.Type = typeDeadProcess
		e.ID = r.id
		if err := put(r.path, &e); err != nil {
			r.log.Warn("utmpx dead record failed", zap.Error(err))
			return
		}
		r.log.Info("utmpx entry closed")
	})
}

// put implements pututxline semantics: under an exclusive lock, overwrite
// the slot whose id matches, else append.
func put(path string, e *entry) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer func() { _ = unix.Flock(int(f.Fd()), unix.LOCK_UN) }()

	offset, err := findSlot(f, e.ID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Grow(entrySize)
	if err := binary.Write(&buf, binary.LittleEndian, e); err != nil {
		return err
	}
	if buf.Len() != entrySize {
		return fmt.Errorf("bad utmp record size %d", buf.Len())
	}
	if _, err := f.WriteAt(buf.Bytes(), offset); err != nil {
		return err
	}
	return f.Sync()
}

// findSlot scans for an existing record with the same id and returns its
// offset, or the end of the file when none matches.
func findSlot(f *os.File, id [idSize]byte) (int64, error) {
	var offset int64
	raw := make([]byte, entrySize)
	for {
		n, err := io.ReadFull(f, raw)
		if errors.Is(err, io.EOF) {
			return offset, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// Truncated trailing record; overwrite it.
			return offset, nil
		}
		if err != nil {
			return 0, err
		}
		var cur entry
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &cur); err != nil {
			return 0, err
		}
		if cur.ID == id && (cur.Type == typeUserProcess || cur.Type == typeDeadProcess) {
			return offset, nil
		}
		offset += int64(n)
	}
}
