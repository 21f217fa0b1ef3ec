// Package helper runs the external bridge executable on behalf of the
// dispatcher.
package helper

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/mil-ad/mobdevctl/internal/control"
)

// maxOutput caps how much of each output stream is kept in a Result.
const maxOutput = 64 << 10

// Invocation is one helper run. Env is the complete environment of the
// child.
type Invocation struct {
	Path string
	Args []string
	Env  []string
}

// Result describes a finished run. ExitCode is -1 when the helper never
// started or was killed by a signal.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Runner abstracts process execution so the dispatcher can be tested
// without spawning anything.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// ExecRunner runs the helper as a local child process in its own process
// group. Cancelling ctx kills the whole group.
type ExecRunner struct {
	Log zerolog.Logger
	// WaitDelay bounds the wait for the child's output pipes after the
	// group has been killed.
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if err := checkInvocation(inv); err != nil {
		return Result{ExitCode: -1}, err
	}

	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	// A nil Env would inherit ours.
	cmd.Env = append(make([]string, 0, len(inv.Env)), inv.Env...)
	cmd.Dir = "/"
	stdout := &cappedBuffer{limit: maxOutput}
	stderr := &cappedBuffer{limit: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = r.waitDelay()

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}
	// The helper itself succeeded but left something in its group holding
	// our pipes, e.g. a forked adb server.
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		if kerr := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); kerr != nil && !errors.Is(kerr, unix.ESRCH) {
			r.Log.Warn().Err(kerr).Int("pgid", cmd.Process.Pid).Msg("kill leftover helper group")
		}
		r.Log.Warn().
			Str("helper", filepath.Base(inv.Path)).
			Dur("wait_delay", cmd.WaitDelay).
			Msg("helper exited cleanly but left children holding its output; killed them")
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%w: %s killed: %v", control.ErrIO, filepath.Base(inv.Path), ctxErr)
		}
		return res, fmt.Errorf("%w: %s exited with status %d", control.ErrIO, filepath.Base(inv.Path), res.ExitCode)
	}
	res.ExitCode = -1
	return res, fmt.Errorf("%w: launch %s: %v", control.ErrIO, inv.Path, err)
}

func (r ExecRunner) waitDelay() time.Duration {
	if r.WaitDelay > 0 {
		return r.WaitDelay
	}
	return 2 * time.Second
}

// checkInvocation refuses anything that would make exec consult PATH or
// truncate an argument at a NUL.
func checkInvocation(inv Invocation) error {
	if !filepath.IsAbs(inv.Path) {
		return fmt.Errorf("%w: helper path %q is not absolute", control.ErrIO, inv.Path)
	}
	for _, arg := range inv.Args {
		if strings.IndexByte(arg, 0) >= 0 {
			return fmt.Errorf("%w: helper argument contains NUL", control.ErrInvalidArgument)
		}
	}
	return nil
}

// cappedBuffer keeps the first limit bytes written to it and discards the
// rest, so a chatty helper cannot grow the daemon.
type cappedBuffer struct {
	buf   []byte
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		b.buf = append(b.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf
}
