// Package config holds the process-wide knobs threaded explicitly
// through gosndrcv instead of living as package-level globals —
// scapy keeps these as module attributes (conf.iface, conf.verb,
// conf.debug_match); here they are a value passed to constructors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the set of knobs the send/receive engine and its CLI
// consult. Default() returns a usable default (verbosity 0, no default
// iface, stderr logger at info level); the zero value has no logger
// output and a zero DefaultTimeout.
type Config struct {
	// Verbose mirrors scapy's conf.verb: 0 quiet, 1 progress dots,
	// 2+ per-packet tracing.
	Verbose int `yaml:"verbose"`

	// DebugMatch, when true, makes the coordinator keep a ring of
	// every hashret comparison it made, for post-mortem inspection
	// (scapy's conf.debug_match).
	DebugMatch bool `yaml:"debug_match"`

	// DefaultIface is used when a caller doesn't specify one and
	// route resolution can't pick one either.
	DefaultIface string `yaml:"default_iface"`

	// ReplayToolPath is the tcpreplay binary invoked by package
	// replay. Empty means "tcpreplay" resolved from PATH.
	ReplayToolPath string `yaml:"replay_tool_path"`

	// CaptureToolPath is the tcpdump binary used to compile BPF
	// filter strings into raw instructions offline. Empty means
	// "tcpdump" resolved from PATH.
	CaptureToolPath string `yaml:"capture_tool_path"`

	// DefaultTimeout is loaded from file and carried with the config;
	// no package in this module reads it.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// Logger is the structured logger every package logs through.
	// Not serialized; built from Verbose when loaded from file.
	Logger zerolog.Logger `yaml:"-"`
}

// Default returns a Config usable without any file or environment,
// logging to stderr at info level.
func Default() Config {
	return Config{
		DefaultTimeout: 2 * time.Second,
		Logger:         zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger(),
	}
}

// Load reads a YAML config file at path and applies GOSNDRCV_*
// environment overrides on top of it, so a deployment can ship one
// base file and override individual knobs per host without templating.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}

	applyEnv(&cfg)
	cfg.Logger = levelledLogger(cfg.Verbose)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GOSNDRCV_VERBOSE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Verbose = n
		}
	}
	if v := os.Getenv("GOSNDRCV_DEBUG_MATCH"); v != "" {
		cfg.DebugMatch = v == "1" || v == "true"
	}
	if v := os.Getenv("GOSNDRCV_IFACE"); v != "" {
		cfg.DefaultIface = v
	}
	if v := os.Getenv("GOSNDRCV_REPLAY_TOOL"); v != "" {
		cfg.ReplayToolPath = v
	}
	if v := os.Getenv("GOSNDRCV_CAPTURE_TOOL"); v != "" {
		cfg.CaptureToolPath = v
	}
}

func levelledLogger(verbose int) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch {
	case verbose >= 2:
		lvl = zerolog.TraceLevel
	case verbose == 1:
		lvl = zerolog.DebugLevel
	case verbose < 0:
		lvl = zerolog.Disabled
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// ReplayTool returns the configured tcpreplay path or the PATH-resolved
// default name.
func (c Config) ReplayTool() string {
	if c.ReplayToolPath != "" {
		return c.ReplayToolPath
	}
	return "tcpreplay"
}

// CaptureTool returns the configured tcpdump path or the PATH-resolved
// default name.
func (c Config) CaptureTool() string {
	if c.CaptureToolPath != "" {
		return c.CaptureToolPath
	}
	return "tcpdump"
}
