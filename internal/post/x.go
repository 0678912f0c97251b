package post

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/coastalwhite/lemurs-sub000/internal/auth"
	"github.com/coastalwhite/lemurs-sub000/internal/config"
	"github.com/coastalwhite/lemurs-sub000/internal/env"
	"github.com/coastalwhite/lemurs-sub000/internal/proc"
)

var (
	ErrXServerStart         = errors.New("failed to start x server")
	ErrXServerTimeout       = errors.New("x server did not become ready in time")
	ErrXServerPrematureExit = errors.New("x server exited before becoming ready")
	ErrXAuthority           = errors.New("failed to fill xauthority file")
)

const xReadyPollInterval = 10 * time.Millisecond

// xStarted is the process-wide readiness flag written by the SIGUSR1
// handler and read only by the spawning goroutine. It is reset before
// arming and after consumption so a later session never observes a stale
// signal. Concurrent X startups are unsupported; callers serialize.
var xStarted atomic.Bool

// The SIGUSR1 handler stays registered for the life of the process. A
// stray raise between sessions then lands in the channel instead of the
// default disposition, which would kill us, and children still exec with
// SIGUSR1 at its default: only ignored dispositions survive exec.
var (
	xSig     = make(chan os.Signal, 1)
	xSigOnce sync.Once
)

func spawnX(identity auth.Identity, script string, container *env.Container, cfg config.Config, log *zap.Logger) (*Session, error) {
	server, err := startXServer(cfg, log)
	if err != nil {
		return nil, err
	}

	authFile := filepath.Join(identity.HomeDir, ".Xauthority")
	container.Set("XAUTHORITY", authFile)
	if err := fillXauthority(identity, cfg.X11.Display, cfg.X11.XAuthPath, authFile); err != nil {
		// No partial graphical state may survive a failed setup.
		if kerr := server.Kill(); kerr != nil {
			log.Warn("cannot stop x server after xauthority failure", zap.Error(kerr))
		}
		return nil, err
	}

	client, err := startMaybeLogged(sessionLeader(userCommand(identity, script)), cfg, log)
	if err != nil {
		if kerr := server.Kill(); kerr != nil {
			log.Warn("cannot stop x server after client failure", zap.Error(kerr))
		}
		return nil, fmt.Errorf("%w: %v", ErrClientSpawn, err)
	}
	log.Info("x session started",
		zap.String("script", script),
		zap.Int("server_pid", server.Pid()), zap.Int("client_pid", client.Pid()))
	return &Session{kind: KindX, client: client, server: server, log: log}, nil
}

// startXServer forks the display server and blocks until it raises the
// readiness signal, the timeout elapses, or the server dies. Exactly one
// of the three happens.
func startXServer(cfg config.Config, log *zap.Logger) (*proc.Child, error) {
	if log == nil {
		log = zap.NewNop()
	}
	disarm := armXReadiness()
	defer disarm()

	// The display server raises SIGUSR1 to its parent once it accepts
	// connections, but only if it inherited SIGUSR1 as ignored. exec
	// preserves ignored dispositions, so route through the shell and set
	// the ignore there before handing over to the server binary.
	line := fmt.Sprintf("trap '' USR1; exec %s %s vt%d",
		cfg.X11.XServerPath, cfg.X11.Display, cfg.X11.VirtualTTY)
	cmd := exec.Command("/bin/sh", "-c", line)
	cmd.Env = os.Environ()

	var server *proc.Child
	var err error
	if cfg.DoLog {
		server, err = proc.StartLogged(cmd, cfg.X11.XServerLogPath, cfg.MaxLogBytes, log)
	} else {
		server, err = proc.Start(cmd)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrXServerStart, err)
	}
	log.Info("x server forked", zap.Int("pid", server.Pid()),
		zap.String("display", cfg.X11.Display), zap.Int("vt", cfg.X11.VirtualTTY))

	deadline := time.Now().Add(time.Duration(cfg.X11.TimeoutSecs) * time.Second)
	for {
		if xStarted.Load() {
			log.Info("x server ready")
			return server, nil
		}
		exited, werr := server.TryWait()
		if werr != nil {
			log.Warn("cannot poll x server", zap.Error(werr))
		}
		if exited {
			// Already dead; nothing to kill.
			return nil, fmt.Errorf("%w: exit code %d", ErrXServerPrematureExit, server.ExitCode())
		}
		if time.Now().After(deadline) {
			if kerr := server.Kill(); kerr != nil {
				log.Warn("cannot kill timed-out x server", zap.Error(kerr))
			}
			return nil, ErrXServerTimeout
		}
		time.Sleep(xReadyPollInterval)
	}
}

// armXReadiness resets the readiness flag, starts the goroutine that
// translates SIGUSR1 into it, and returns the disarm func that stops the
// goroutine and clears the flag again after consumption.
func armXReadiness() func() {
	xSigOnce.Do(func() { signal.Notify(xSig, syscall.SIGUSR1) })
	// Drop a stale raise left over from a previous server.
	select {
	case <-xSig:
	default:
	}
	xStarted.Store(false)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-xSig:
				xStarted.Store(true)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		xStarted.Store(false)
	}
}

// fillXauthority writes a fresh cookie for the display into the user's
// Xauthority file through a privilege-dropped xauth invocation, so the
// file ends up owned and readable by the user alone.
func fillXauthority(identity auth.Identity, display, xauthPath, authFile string) error {
	cookie, err := mcookie()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrXAuthority, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, xauthPath, "add", display, ".", cookie)
	cmd.Env = append(os.Environ(), "XAUTHORITY="+authFile)
	cmd.Dir = identity.HomeDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Credential: identity.Credential()}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return fmt.Errorf("%w: %s: %s", ErrXAuthority, err, s)
		}
		return fmt.Errorf("%w: %v", ErrXAuthority, err)
	}
	return nil
}

// mcookie generates the 128-bit hex cookie xauth expects.
func mcookie() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
