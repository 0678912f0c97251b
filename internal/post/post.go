// Package post implements the post-login environments: an X session, a
// Wayland session, or a plain login shell, spawned with the user's
// privileges and supervised until exit.
package post

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"go.uber.org/zap"

	"github.com/coastalwhite/lemurs-sub000/internal/auth"
	"github.com/coastalwhite/lemurs-sub000/internal/config"
	"github.com/coastalwhite/lemurs-sub000/internal/env"
	"github.com/coastalwhite/lemurs-sub000/internal/proc"
)

// Kind is the closed set of session flavours. Chosen before spawn,
// immutable after.
type Kind int

const (
	KindShell Kind = iota
	KindX
	KindWayland
)

func (k Kind) String() string {
	switch k {
	case KindShell:
		return "shell"
	case KindX:
		return "x11"
	case KindWayland:
		return "wayland"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// SessionType is the XDG_SESSION_TYPE value for this kind.
func (k Kind) SessionType() string {
	switch k {
	case KindX:
		return "x11"
	case KindWayland:
		return "wayland"
	default:
		return "tty"
	}
}

// Environment is one selectable post-login environment. ScriptPath is
// empty for the shell kind.
type Environment struct {
	Kind       Kind
	Name       string
	ScriptPath string
}

var (
	ErrShellSpawn      = errors.New("failed to spawn login shell")
	ErrCompositorSpawn = errors.New("failed to spawn wayland compositor")
	ErrClientSpawn     = errors.New("failed to spawn x client")
)

// Session is a running post-login environment. For X it is a
// {server, client} pair; otherwise a single child.
type Session struct {
	kind   Kind
	client *proc.Child
	server *proc.Child
	log    *zap.Logger
}

// Pid is the session's accounting pid: the client for X, the sole child
// otherwise.
func (s *Session) Pid() int { return s.client.Pid() }

// Wait blocks until the session ends. For X the client is waited first
// and only then is the server killed and reaped; the reverse order can
// orphan or hang the client against a dead display.
func (s *Session) Wait() error {
	err := s.client.Wait()
	if s.kind == KindX && s.server != nil {
		if kerr := s.server.Kill(); kerr != nil {
			s.log.Warn("cannot stop x server", zap.Error(kerr))
		}
	}
	if err != nil {
		return fmt.Errorf("wait %s session: %w", s.kind, err)
	}
	s.log.Info("session ended",
		zap.Stringer("kind", s.kind), zap.Int("exit_code", s.client.ExitCode()))
	return nil
}

// Spawn starts the environment with the identity's privileges. The
// container already carries the session variables; children inherit the
// process environment as configured there.
func (e Environment) Spawn(identity auth.Identity, container *env.Container, cfg config.Config, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch e.Kind {
	case KindShell:
		return spawnShell(identity, cfg, log)
	case KindWayland:
		return spawnWayland(identity, e.ScriptPath, cfg, log)
	case KindX:
		return spawnX(identity, e.ScriptPath, container, cfg, log)
	default:
		return nil, fmt.Errorf("unknown session kind %d", e.Kind)
	}
}

func spawnShell(identity auth.Identity, cfg config.Config, log *zap.Logger) (*Session, error) {
	args := []string{}
	switch cfg.ShellLoginFlag {
	case config.ShellLoginFlagShort:
		args = append(args, "-l")
	case config.ShellLoginFlagLong:
		args = append(args, "--login")
	}
	// The shell stays in our session: a fresh one would detach it from
	// the terminal on stdin, leaving /dev/tty unopenable and job control
	// dead. Its stdio is never captured.
	cmd := userCommand(identity, identity.Shell, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	child, err := proc.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShellSpawn, err)
	}
	log.Info("login shell started", zap.String("shell", identity.Shell), zap.Int("pid", child.Pid()))
	return &Session{kind: KindShell, client: child, log: log}, nil
}

func spawnWayland(identity auth.Identity, script string, cfg config.Config, log *zap.Logger) (*Session, error) {
	cmd := sessionLeader(userCommand(identity, script))
	child, err := startMaybeLogged(cmd, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompositorSpawn, err)
	}
	log.Info("wayland compositor started", zap.String("script", script), zap.Int("pid", child.Pid()))
	return &Session{kind: KindWayland, client: child, log: log}, nil
}

// userCommand builds a command that execs with the identity's privileges.
// The credential is applied post-fork, pre-exec, in the fixed order
// setgroups, setgid, setuid. The child inherits our session; graphical
// children go through sessionLeader instead.
func userCommand(identity auth.Identity, name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Dir = identity.HomeDir
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: identity.Credential(),
	}
	return cmd
}

// sessionLeader puts cmd in a fresh session. Only for graphical
// children: the login shell must keep the session of the terminal on
// its stdin or it loses the controlling terminal.
func sessionLeader(cmd *exec.Cmd) *exec.Cmd {
	cmd.SysProcAttr.Setsid = true
	return cmd
}

func startMaybeLogged(cmd *exec.Cmd, cfg config.Config, log *zap.Logger) (*proc.Child, error) {
	if !cfg.DoLog {
		cmd.Stdout = nil
		cmd.Stderr = nil
		return proc.Start(cmd)
	}
	return proc.StartLogged(cmd, cfg.ClientLogPath, cfg.MaxLogBytes, log)
}
