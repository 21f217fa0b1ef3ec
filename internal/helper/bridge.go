package helper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mil-ad/mobdevctl/internal/control"
)

// KeyCode is an Android input key event name.
type KeyCode string

const (
	KeyCall       KeyCode = "KEYCODE_CALL"
	KeyEndCall    KeyCode = "KEYCODE_ENDCALL"
	KeyVolumeUp   KeyCode = "KEYCODE_VOLUME_UP"
	KeyVolumeDown KeyCode = "KEYCODE_VOLUME_DOWN"
)

const (
	DefaultHome       = "/"
	DefaultSearchPath = "/sbin:/bin:/usr/sbin:/usr/bin"
	DefaultTimeout    = 30 * time.Second
)

// Environment builds the helper's entire environment.
func Environment(home, searchPath string) []string {
	if home == "" {
		home = DefaultHome
	}
	if searchPath == "" {
		searchPath = DefaultSearchPath
	}
	return []string{"HOME=" + home, "PATH=" + searchPath}
}

// Bridge drives the adb-style bridge helper. Argument vectors are fixed
// here; callers only supply already validated paths.
type Bridge struct {
	Path      string
	Env       []string
	Timeout   time.Duration
	RemoteDir string
	LocalDir  string
	Runner    Runner
	Log       zerolog.Logger
}

// Push copies a local file to RemoteDir on the device.
func (b *Bridge) Push(ctx context.Context, local string) error {
	return b.run(ctx, "push", local, b.RemoteDir)
}

// Pull copies a device file into LocalDir.
func (b *Bridge) Pull(ctx context.Context, remote string) error {
	return b.run(ctx, "pull", remote, b.LocalDir)
}

// KeyEvent injects one key event on the device.
func (b *Bridge) KeyEvent(ctx context.Context, code KeyCode) error {
	return b.run(ctx, "shell", "input", "keyevent", string(code))
}

// CheckCallState checks that the device's telephony service answers
// before a call key event is sent.
func (b *Bridge) CheckCallState(ctx context.Context) error {
	return b.run(ctx, "shell", "dumpsys", "telephony.registry")
}

func (b *Bridge) run(ctx context.Context, args ...string) error {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := b.Env
	if env == nil {
		env = Environment("", "")
	}
	res, err := b.runner().Run(ctx, Invocation{Path: b.Path, Args: args, Env: env})
	if err != nil {
		b.Log.Error().
			Strs("argv", args).
			Int("exit_code", res.ExitCode).
			Dur("duration", res.Duration).
			Str("stderr", strings.TrimSpace(string(res.Stderr))).
			Err(err).
			Msg("helper failed")
		if errors.Is(err, control.ErrIO) || errors.Is(err, control.ErrInvalidArgument) {
			return err
		}
		return fmt.Errorf("%w: %v", control.ErrIO, err)
	}
	b.Log.Debug().
		Strs("argv", args).
		Dur("duration", res.Duration).
		Msg("helper finished")
	return nil
}

func (b *Bridge) runner() Runner {
	if b.Runner != nil {
		return b.Runner
	}
	return ExecRunner{}
}
