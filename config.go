package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/mil-ad/mobdevctl/internal/control"
	"github.com/mil-ad/mobdevctl/internal/helper"
)

const (
	envConfig = "MOBDEVCTL_CONFIG"
	envSocket = "MOBDEVCTL_SOCKET"

	defaultConfigPath = "/etc/mobdevctl/config.toml"
)

type HelperConfig struct {
	Path           string
	Home           string
	SearchPath     string
	Timeout        time.Duration
	KillGrace      time.Duration
	CheckCallState bool
}

type Config struct {
	Socket      string
	SocketMode  fs.FileMode
	SocketGroup string
	AllowedUIDs []uint32
	StatusAddr  string
	LogLevel    string
	USBDebug    int

	Helper          HelperConfig
	RemoteDir       string
	LocalDir        string
	TetherInterface string
	NotifyBus       string
}

type fileConfig struct {
	Socket      string   `toml:"socket"`
	SocketMode  string   `toml:"socket_mode"`
	SocketGroup string   `toml:"socket_group"`
	AllowedUIDs []uint32 `toml:"allowed_uids"`
	StatusAddr  string   `toml:"status_addr"`
	LogLevel    string   `toml:"log_level"`
	USBDebug    int      `toml:"usb_debug"`
	Helper      struct {
		Path           string `toml:"path"`
		Home           string `toml:"home"`
		SearchPath     string `toml:"search_path"`
		Timeout        string `toml:"timeout"`
		KillGrace      string `toml:"kill_grace"`
		CheckCallState bool   `toml:"check_call_state"`
	} `toml:"helper"`
	Transfer struct {
		RemoteDir string `toml:"remote_dir"`
		LocalDir  string `toml:"local_dir"`
	} `toml:"transfer"`
	Tether struct {
		Interface string `toml:"interface"`
	} `toml:"tether"`
	Notifications struct {
		Bus string `toml:"bus"`
	} `toml:"notifications"`
}

func defaultConfig() Config {
	return Config{
		Socket:     "/run/mobdevctl.sock",
		SocketMode: 0o600,
		LogLevel:   "info",
		Helper: HelperConfig{
			Path:       "/usr/libexec/mobdevctl/adb-bridge",
			Home:       helper.DefaultHome,
			SearchPath: helper.DefaultSearchPath,
			Timeout:    helper.DefaultTimeout,
			KillGrace:  2 * time.Second,
		},
		RemoteDir:       "/sdcard/Download",
		LocalDir:        "/var/lib/mobdevctl/inbox",
		TetherInterface: "usb0",
		NotifyBus:       "system",
	}
}

func configPath() string {
	if p := os.Getenv(envConfig); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadConfig reads the config file on top of the defaults. A missing file
// is not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return cfg.withEnv(), nil
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if meta.IsDefined("socket") {
		cfg.Socket = strings.TrimSpace(raw.Socket)
	}
	if meta.IsDefined("socket_mode") {
		m, err := strconv.ParseUint(strings.TrimSpace(raw.SocketMode), 8, 32)
		if err != nil {
			return Config{}, fmt.Errorf("parse socket_mode: %w", err)
		}
		cfg.SocketMode = fs.FileMode(m)
	}
	if meta.IsDefined("socket_group") {
		cfg.SocketGroup = strings.TrimSpace(raw.SocketGroup)
	}
	if meta.IsDefined("allowed_uids") {
		cfg.AllowedUIDs = raw.AllowedUIDs
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("usb_debug") {
		cfg.USBDebug = raw.USBDebug
	}
	if meta.IsDefined("helper", "path") {
		cfg.Helper.Path = strings.TrimSpace(raw.Helper.Path)
	}
	if meta.IsDefined("helper", "home") {
		cfg.Helper.Home = strings.TrimSpace(raw.Helper.Home)
	}
	if meta.IsDefined("helper", "search_path") {
		cfg.Helper.SearchPath = strings.TrimSpace(raw.Helper.SearchPath)
	}
	if meta.IsDefined("helper", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Helper.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse helper.timeout: %w", err)
		}
		cfg.Helper.Timeout = d
	}
	if meta.IsDefined("helper", "kill_grace") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Helper.KillGrace))
		if err != nil {
			return Config{}, fmt.Errorf("parse helper.kill_grace: %w", err)
		}
		cfg.Helper.KillGrace = d
	}
	if meta.IsDefined("helper", "check_call_state") {
		cfg.Helper.CheckCallState = raw.Helper.CheckCallState
	}
	if meta.IsDefined("transfer", "remote_dir") {
		cfg.RemoteDir = strings.TrimSpace(raw.Transfer.RemoteDir)
	}
	if meta.IsDefined("transfer", "local_dir") {
		cfg.LocalDir = strings.TrimSpace(raw.Transfer.LocalDir)
	}
	if meta.IsDefined("tether", "interface") {
		cfg.TetherInterface = strings.TrimSpace(raw.Tether.Interface)
	}
	if meta.IsDefined("notifications", "bus") {
		cfg.NotifyBus = strings.ToLower(strings.TrimSpace(raw.Notifications.Bus))
	}

	return cfg.withEnv(), nil
}

func (c Config) withEnv() Config {
	if s := os.Getenv(envSocket); s != "" {
		c.Socket = s
	}
	return c
}

// validate reports every problem at once.
func (c Config) validate() error {
	var errs error
	if c.Socket == "" {
		errs = multierror.Append(errs, fmt.Errorf("socket is required"))
	}
	if c.SocketMode&^fs.ModePerm != 0 || c.SocketMode&0o600 != 0o600 {
		errs = multierror.Append(errs, fmt.Errorf("socket_mode %#o must be permission bits including 0600", uint32(c.SocketMode)))
	}
	if !filepath.IsAbs(c.Helper.Path) {
		errs = multierror.Append(errs, fmt.Errorf("helper.path %q must be absolute", c.Helper.Path))
	}
	if !filepath.IsAbs(c.Helper.Home) {
		errs = multierror.Append(errs, fmt.Errorf("helper.home %q must be absolute", c.Helper.Home))
	}
	for _, dir := range filepath.SplitList(c.Helper.SearchPath) {
		if !filepath.IsAbs(dir) {
			errs = multierror.Append(errs, fmt.Errorf("helper.search_path entry %q must be absolute", dir))
		}
	}
	if c.Helper.Timeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("helper.timeout must be positive"))
	}
	if c.Helper.KillGrace <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("helper.kill_grace must be positive"))
	}
	if c.RemoteDir == "" || c.LocalDir == "" {
		errs = multierror.Append(errs, fmt.Errorf("transfer.remote_dir and transfer.local_dir are required"))
	}
	if !control.ValidIfName(c.TetherInterface) {
		errs = multierror.Append(errs, fmt.Errorf("tether.interface %q is not a valid interface name", c.TetherInterface))
	}
	switch c.NotifyBus {
	case "system", "session", "none":
	default:
		errs = multierror.Append(errs, fmt.Errorf("notifications.bus %q must be system, session or none", c.NotifyBus))
	}
	return errs
}
