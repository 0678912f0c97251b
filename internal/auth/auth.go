package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/coastalwhite/lemurs-sub000/internal/userdb"
)

var (
	// ErrInvalidService means the configured service name has no usable
	// service definition. Configuration problem, never retried.
	ErrInvalidService = errors.New("invalid authentication service")

	// ErrInvalidCredentials covers every credential-validation failure:
	// unknown user, wrong password, locked account. Deliberately one
	// error so callers cannot distinguish which part was at fault.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUsernameNotFound means validation passed but the user database
	// has no entry for the name. Anomalous: the two should agree.
	ErrUsernameNotFound = errors.New("username not found in user database")

	// ErrSessionOpen means the session bracket could not be established.
	ErrSessionOpen = errors.New("failed to open session")
)

// Identity is the numeric identity a successful authentication resolves.
type Identity struct {
	Username string
	UID      uint32
	GID      uint32
	Groups   []uint32
	HomeDir  string
	Shell    string
}

// Authenticator validates credentials against the host databases. The
// zero value is unusable; use New.
type Authenticator struct {
	serviceDir string
	passwdPath string
	shadowPath string
	groupPath  string
	runUserDir string
	log        *zap.Logger
}

// Option overrides a database location, mainly for tests.
type Option func(*Authenticator)

func WithPasswdPath(p string) Option { return func(a *Authenticator) { a.passwdPath = p } }
func WithShadowPath(p string) Option { return func(a *Authenticator) { a.shadowPath = p } }
func WithGroupPath(p string) Option  { return func(a *Authenticator) { a.groupPath = p } }
func WithServiceDir(p string) Option { return func(a *Authenticator) { a.serviceDir = p } }
func WithRunUserDir(p string) Option { return func(a *Authenticator) { a.runUserDir = p } }

func New(log *zap.Logger, opts ...Option) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Authenticator{
		serviceDir: "/etc/pam.d",
		passwdPath: "/etc/passwd",
		shadowPath: "/etc/shadow",
		groupPath:  "/etc/group",
		runUserDir: "/run/user",
		log:        log,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Authenticate runs the full handshake for one credential pair and, on
// success, opens the session bracket. The returned Session must be held
// until the spawned child has fully exited, then closed exactly once;
// closing earlier tears down per-login platform state (the user runtime
// directory) while the session still references it.
func (a *Authenticator) Authenticate(username, password, service string) (*Session, error) {
	if err := a.openService(service); err != nil {
		return nil, err
	}

	if err := a.validate(username, password); err != nil {
		return nil, err
	}

	identity, err := a.resolve(username)
	if err != nil {
		// Validation succeeded moments ago, so a miss here means the
		// databases changed under us or disagree. Worth flagging.
		a.log.Warn("identity resolution failed after successful validation",
			zap.String("username", username), zap.Error(err))
		return nil, err
	}

	session, err := a.openSession(identity)
	if err != nil {
		return nil, err
	}
	a.log.Info("login session opened",
		zap.String("username", identity.Username), zap.Uint32("uid", identity.UID))
	return session, nil
}

func (a *Authenticator) openService(service string) error {
	if service == "" {
		return fmt.Errorf("%w: empty service name", ErrInvalidService)
	}
	if _, err := os.Stat(filepath.Join(a.serviceDir, service)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidService, service, err)
	}
	return nil
}

func (a *Authenticator) resolve(username string) (Identity, error) {
	pw, err := userdb.LoadPasswd(a.passwdPath)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUsernameNotFound, err)
	}
	entry := pw.Find(username)
	if entry == nil {
		return Identity{}, fmt.Errorf("%w: %s", ErrUsernameNotFound, username)
	}

	groups := []uint32{entry.GID}
	if gf, err := userdb.LoadGroup(a.groupPath); err != nil {
		a.log.Warn("cannot read group database, using primary group only", zap.Error(err))
	} else {
		groups = gf.SupplementaryGroups(username, entry.GID)
	}

	shell := entry.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	return Identity{
		Username: entry.Name,
		UID:      entry.UID,
		GID:      entry.GID,
		Groups:   groups,
		HomeDir:  entry.Home,
		Shell:    shell,
	}, nil
}

// Session is the open login bracket. Destroying it logs the session out.
type Session struct {
	identity      Identity
	runtimeDir    string
	createdRunDir bool
	log           *zap.Logger
	closeOnce     sync.Once
}

func (s *Session) Identity() Identity { return s.identity }

// RuntimeDir is the per-login XDG_RUNTIME_DIR this session owns.
func (s *Session) RuntimeDir() string { return s.runtimeDir }

func (a *Authenticator) openSession(identity Identity) (*Session, error) {
	runtimeDir := filepath.Join(a.runUserDir, fmt.Sprintf("%d", identity.UID))
	created := false
	if _, err := os.Stat(runtimeDir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(runtimeDir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: create runtime dir: %v", ErrSessionOpen, err)
		}
		if err := os.Chown(runtimeDir, int(identity.UID), int(identity.GID)); err != nil {
			_ = os.Remove(runtimeDir)
			return nil, fmt.Errorf("%w: chown runtime dir: %v", ErrSessionOpen, err)
		}
		created = true
	}
	return &Session{
		identity:      identity,
		runtimeDir:    runtimeDir,
		createdRunDir: created,
		log:           a.log,
	}, nil
}

// Close ends the session bracket: per-login platform state this session
// created is removed. Idempotent; never fails.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.createdRunDir {
			if err := os.RemoveAll(s.runtimeDir); err != nil {
				s.log.Warn("cannot remove runtime dir", zap.String("dir", s.runtimeDir), zap.Error(err))
			}
		}
		s.log.Info("login session closed", zap.String("username", s.identity.Username))
	})
}
