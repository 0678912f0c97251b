package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ShellLoginFlag selects how the login shell is invoked for tty sessions.
type ShellLoginFlag string

const (
	ShellLoginFlagNone  ShellLoginFlag = "none"
	ShellLoginFlagShort ShellLoginFlag = "short" // -l
	ShellLoginFlagLong  ShellLoginFlag = "long"  // --login
)

type X11 struct {
	XServerPath    string `toml:"xserver_path"`
	Display        string `toml:"display"`
	VirtualTTY     int    `toml:"-"` // filled from the top-level tty
	TimeoutSecs    uint   `toml:"xserver_timeout_secs"`
	ScriptsPath    string `toml:"scripts_path"`
	XAuthPath      string `toml:"xauth_path"`
	XServerLogPath string `toml:"xserver_log_path"`
}

type Wayland struct {
	ScriptsPath string `toml:"scripts_path"`
}

type Config struct {
	TTY            int            `toml:"tty"`
	PAMService     string         `toml:"pam_service"`
	ShellLoginFlag ShellLoginFlag `toml:"shell_login_flag"`
	CachePath      string         `toml:"cache_path"`

	DoLog         bool   `toml:"do_log"`
	LogPath       string `toml:"log_path"`
	ClientLogPath string `toml:"client_log_path"`
	MaxLogBytes   int64  `toml:"max_log_bytes"`

	X11     X11     `toml:"x11"`
	Wayland Wayland `toml:"wayland"`
}

// Default returns the compiled-in configuration. Load layers the file on
// top of this, so a partial config file is always valid.
func Default() Config {
	cfg := Config{
		TTY:            2,
		PAMService:     "lemurs",
		ShellLoginFlag: ShellLoginFlagShort,
		CachePath:      "/var/cache/lemurs",
		DoLog:          true,
		LogPath:        "/var/log/lemurs.log",
		ClientLogPath:  "/var/log/lemurs.client.log",
		MaxLogBytes:    1 << 20,
		X11: X11{
			XServerPath:    "/usr/bin/X",
			Display:        ":1",
			TimeoutSecs:    60,
			ScriptsPath:    "/etc/lemurs/wms",
			XAuthPath:      "/usr/bin/xauth",
			XServerLogPath: "/var/log/lemurs.xserver.log",
		},
		Wayland: Wayland{
			ScriptsPath: "/etc/lemurs/wayland",
		},
	}
	cfg.X11.VirtualTTY = cfg.TTY
	return cfg
}

// Load reads a TOML config file over the defaults. A missing file is not
// an error; an unreadable or malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	cfg.X11.VirtualTTY = cfg.TTY
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ShellLoginFlag {
	case ShellLoginFlagNone, ShellLoginFlagShort, ShellLoginFlagLong:
	default:
		return fmt.Errorf("invalid shell_login_flag %q", c.ShellLoginFlag)
	}
	if c.TTY < 1 || c.TTY > 12 {
		return fmt.Errorf("tty %d out of range 1..12", c.TTY)
	}
	if c.PAMService == "" {
		return errors.New("pam_service must not be empty")
	}
	return nil
}
