// Package session drives one complete login: authenticate, configure the
// environment, spawn the chosen post-login environment, account for it,
// wait, and roll every process-wide side effect back in reverse order.
package session

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/coastalwhite/lemurs-sub000/internal/auth"
	"github.com/coastalwhite/lemurs-sub000/internal/config"
	"github.com/coastalwhite/lemurs-sub000/internal/env"
	"github.com/coastalwhite/lemurs-sub000/internal/post"
	"github.com/coastalwhite/lemurs-sub000/internal/utmpx"
)

// Credentials is the pair the front end collected.
type Credentials struct {
	Username string
	Password string
}

// Hooks are optional instrumentation points. They run at fixed places in
// the sequence and never alter control flow.
type Hooks struct {
	PreValidate    func()
	PreAuth        func()
	PreEnvironment func()
	PreWait        func()
	PreReturn      func()
}

func call(h func()) {
	if h != nil {
		h()
	}
}

// Orchestrator runs login sessions one at a time. It is not safe for
// concurrent use: the X readiness flag and the process environment are
// process-wide.
type Orchestrator struct {
	cfg           config.Config
	authenticator *auth.Authenticator
	utmpPath      string
	log           *zap.Logger
}

// Option overrides a collaborator, mainly for tests.
type Option func(*Orchestrator)

func WithAuthenticator(a *auth.Authenticator) Option {
	return func(o *Orchestrator) { o.authenticator = a }
}

func WithUtmpPath(p string) Option {
	return func(o *Orchestrator) { o.utmpPath = p }
}

func New(cfg config.Config, log *zap.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:      cfg,
		utmpPath: utmpx.DefaultPath,
		log:      log,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.authenticator == nil {
		o.authenticator = auth.New(log)
	}
	return o
}

// Run executes the full sequence for one login. Each failing step
// short-circuits; resources already acquired are released in reverse
// order on every path, and every rollback step is best-effort.
// Accounting is the one exception: the child is already running when
// the utmp write happens, so its failure is logged, not fatal.
func (o *Orchestrator) Run(creds Credentials, environment post.Environment, hooks Hooks) error {
	defer call(hooks.PreReturn)

	container := env.TakeSnapshot(o.log)

	call(hooks.PreValidate)
	call(hooks.PreAuth)
	authSession, err := o.authenticator.Authenticate(creds.Username, creds.Password, o.cfg.PAMService)
	if err != nil {
		return err
	}
	// The auth session must outlive the spawned child: platform state
	// like the runtime dir is torn down on Close. Registered before the
	// container's defer so failure paths unwind variables first, then
	// log out.
	defer authSession.Close()
	// Restore is idempotent; this defer covers the failure paths, the
	// explicit call below is the normal pre-wait release. Nothing is in
	// the container before this point, so the auth failure above needs
	// no restore.
	defer container.Restore()
	identity := authSession.Identity()

	call(hooks.PreEnvironment)
	o.setSessionVars(container, identity, environment.Kind, authSession.RuntimeDir())

	spawned, err := environment.Spawn(identity, container, o.cfg, o.log)
	if err != nil {
		return fmt.Errorf("start %s environment: %w", environment.Kind, err)
	}

	record, err := utmpx.Add(o.utmpPath, identity.Username, o.cfg.TTY, spawned.Pid(), o.log)
	if err != nil {
		o.log.Warn("login accounting unavailable", zap.Error(err))
	} else {
		defer record.Close()
	}

	// The child inherited its environment at fork; restoring ours now
	// does not affect it, and a crash during wait must not leave the
	// login manager's own environment polluted.
	container.Restore()

	call(hooks.PreWait)
	if err := spawned.Wait(); err != nil {
		return err
	}
	return nil
}

// setSessionVars configures the process environment the child will
// inherit: identity vars, the session's XDG identity, and XDG base
// directories. SetOrOwn is used where a host-provided value wins.
func (o *Orchestrator) setSessionVars(c *env.Container, id auth.Identity, kind post.Kind, runtimeDir string) {
	if kind == post.KindX {
		c.Set("DISPLAY", o.cfg.X11.Display)
	}
	c.Set("XDG_SESSION_CLASS", "user")
	c.Set("XDG_SESSION_TYPE", kind.SessionType())
	c.Set("XDG_SEAT", "seat0")
	c.Set("XDG_VTNR", fmt.Sprintf("%d", o.cfg.TTY))
	c.Set("XDG_SESSION_ID", "1")
	c.Set("XDG_RUNTIME_DIR", runtimeDir)

	c.Set("HOME", id.HomeDir)
	c.Set("SHELL", id.Shell)
	c.Set("USER", id.Username)
	c.Set("LOGNAME", id.Username)
	c.SetOrOwn("PATH", "/usr/local/sbin:/usr/local/bin:/usr/bin:/usr/sbin:/sbin:/bin")

	c.SetOrOwn("XDG_CONFIG_HOME", id.HomeDir+"/.config")
	c.SetOrOwn("XDG_CACHE_HOME", id.HomeDir+"/.cache")
	c.SetOrOwn("XDG_DATA_HOME", id.HomeDir+"/.local/share")
	c.SetOrOwn("XDG_STATE_HOME", id.HomeDir+"/.local/state")
	c.SetOrOwn("XDG_DATA_DIRS", "/usr/local/share:/usr/share")
	c.SetOrOwn("XDG_CONFIG_DIRS", "/etc/xdg")

	c.SetCurrentDir(id.HomeDir)
}

// HumanError maps an orchestration failure to the single line shown on
// the login prompt. Authentication failures collapse into one message so
// the prompt never confirms whether a username exists; the distinct
// causes are already in the log.
func HumanError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrUsernameNotFound),
		errors.Is(err, auth.ErrSessionOpen):
		return "Authentication failed."
	case errors.Is(err, auth.ErrInvalidService):
		return "Login is misconfigured on this machine; contact your administrator."
	case errors.Is(err, post.ErrXServerTimeout):
		return "The display server did not come up in time."
	case errors.Is(err, post.ErrXServerPrematureExit):
		return "The display server crashed during startup."
	default:
		return fmt.Sprintf("Login failed: %v", err)
	}
}
