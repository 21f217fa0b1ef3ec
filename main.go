package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mil-ad/mobdevctl/internal/control"
)

const usage = `usage:
  mobdevctl daemon
  mobdevctl status
  mobdevctl detect
  mobdevctl transfer <path> [push|pull]
  mobdevctl tether [on|off] [ifname]
  mobdevctl notify [on|off]
  mobdevctl call [answer|reject]
  mobdevctl media [up|down]`

var errUsage = errors.New("usage")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "daemon":
		err = runDaemon()
	case "status":
		err = runStatus()
	default:
		cmd, args, perr := parseCommand(os.Args[1:])
		if perr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n%s\n", perr, usage)
			os.Exit(1)
		}
		err = runDispatch(cmd, args)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseCommand maps CLI words onto a command and its argument block. Like
// the on/off switches, anything other than the positive word means off.
func parseCommand(argv []string) (control.Command, *control.Args, error) {
	cmd, ok := control.ParseCommand(argv[0])
	if !ok {
		return 0, nil, fmt.Errorf("%w: unknown command: %s", errUsage, argv[0])
	}
	opt := func(i int) string {
		if i < len(argv) {
			return argv[i]
		}
		return ""
	}

	args := &control.Args{}
	switch cmd {
	case control.Detect:
		return cmd, nil, nil
	case control.FileTransfer:
		if opt(1) == "" {
			return 0, nil, fmt.Errorf("%w: please specify a path", errUsage)
		}
		args.Path = opt(1)
		switch opt(2) {
		case "", "push":
			args.Enable = true
			// The daemon does not share our working directory.
			abs, err := filepath.Abs(args.Path)
			if err != nil {
				return 0, nil, fmt.Errorf("resolve %s: %w", args.Path, err)
			}
			args.Path = abs
		case "pull":
		default:
			return 0, nil, fmt.Errorf("%w: transfer direction must be push or pull", errUsage)
		}
	case control.Tethering:
		args.Enable = opt(1) == "on"
		args.IfName = opt(2)
	case control.Notifications:
		args.Enable = opt(1) == "on"
	case control.CallControl:
		args.Action = opt(1) == "answer"
	case control.MediaControl:
		args.Action = opt(1) == "up"
	}
	return cmd, args, nil
}
