package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls where and how the session core logs.
type Config struct {
	Level   string // "debug", "info", "warn", "error"
	Path    string // log file; empty means stderr only
	Verbose bool   // console encoding, debug level, caller info
}

// New builds the process logger. The session core runs as root on a VT
// the user is about to leave, so stderr is only useful in verbose mode;
// normal operation logs JSON to Path.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}
	if cfg.Verbose {
		level = zapcore.DebugLevel
	}

	outputs := []string{"stderr"}
	encoding := "console"
	if cfg.Path != "" && !cfg.Verbose {
		outputs = []string{cfg.Path}
		encoding = "json"
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          encoding,
		EncoderConfig:     encoderConfig(cfg.Verbose),
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.Verbose,
		DisableStacktrace: true,
	}
	return zapCfg.Build()
}

// NewNop returns a logger that discards everything. Used as the default
// when a component is constructed without one, and throughout tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

func encoderConfig(verbose bool) zapcore.EncoderConfig {
	if verbose {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
