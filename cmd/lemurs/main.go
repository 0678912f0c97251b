package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/coastalwhite/lemurs-sub000/internal/cache"
	"github.com/coastalwhite/lemurs-sub000/internal/config"
	"github.com/coastalwhite/lemurs-sub000/internal/logging"
	"github.com/coastalwhite/lemurs-sub000/internal/post"
	"github.com/coastalwhite/lemurs-sub000/internal/session"
	"github.com/coastalwhite/lemurs-sub000/internal/vt"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, session.HumanError(err))
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "/etc/lemurs/config.toml", "path to the TOML configuration file")
		tty        = pflag.Int("tty", 0, "virtual terminal to run on (overrides config)")
		envName    = pflag.String("environment", "", "post-login environment to start (overrides cache)")
		username   = pflag.String("user", "", "username to log in as (overrides cache)")
		verbose    = pflag.BoolP("verbose", "v", false, "log to stderr at debug level")
		noVTSwitch = pflag.Bool("no-vt-switch", false, "do not activate the configured virtual terminal")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *tty != 0 {
		cfg.TTY = *tty
		cfg.X11.VirtualTTY = *tty
	}

	log, err := logging.New(logging.Config{Path: cfg.LogPath, Verbose: *verbose})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if !*noVTSwitch {
		if err := vt.Activate(cfg.TTY); err != nil {
			// Not fatal: we may already be on the right terminal.
			log.Warn("cannot switch virtual terminal", zap.Int("tty", cfg.TTY), zap.Error(err))
		}
	}

	environments := post.Discover(post.DiscoverConfig{
		XScriptsDir:       cfg.X11.ScriptsPath,
		WaylandScriptsDir: cfg.Wayland.ScriptsPath,
	}, log)

	cached, err := cache.Load(cfg.CachePath)
	if err != nil {
		log.Warn("cannot load login cache", zap.Error(err))
	}

	environment := chooseEnvironment(environments, *envName, cached.Environment)
	creds, err := readCredentials(*username, cached.Username)
	if err != nil {
		return err
	}

	orchestrator := session.New(cfg, log)
	if err := orchestrator.Run(creds, environment, session.Hooks{}); err != nil {
		return err
	}

	if err := cache.Save(cfg.CachePath, cache.Entry{
		Environment: environment.Name,
		Username:    creds.Username,
	}); err != nil {
		log.Warn("cannot save login cache", zap.Error(err))
	}
	return nil
}

// chooseEnvironment resolves the session to start: explicit flag first,
// then the cached choice, then the first discovered environment (the
// shell is always present, so the list is never empty).
func chooseEnvironment(envs []post.Environment, flagName, cachedName string) post.Environment {
	for _, want := range []string{flagName, cachedName} {
		if want == "" {
			continue
		}
		for _, e := range envs {
			if e.Name == want {
				return e
			}
		}
	}
	return envs[0]
}

// readCredentials collects the pair from the terminal. The username may
// come from a flag or the cache; the password is always prompted, with
// echo off.
func readCredentials(flagUser, cachedUser string) (session.Credentials, error) {
	user := flagUser
	if user == "" {
		user = cachedUser
	}
	reader := bufio.NewReader(os.Stdin)
	if user == "" {
		fmt.Print("login: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return session.Credentials{}, fmt.Errorf("read username: %w", err)
		}
		user = strings.TrimSpace(line)
	}

	fmt.Print("password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return session.Credentials{}, fmt.Errorf("read password: %w", err)
	}
	return session.Credentials{Username: user, Password: string(password)}, nil
}
