// Package dispatch routes control commands to the component that carries
// them out and reduces every outcome to a single status code.
package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mil-ad/mobdevctl/internal/control"
	"github.com/mil-ad/mobdevctl/internal/helper"
	"github.com/mil-ad/mobdevctl/internal/netif"
	"github.com/mil-ad/mobdevctl/internal/notify"
	"github.com/mil-ad/mobdevctl/internal/usb"
)

type Options struct {
	// DefaultIfName is used by tethering requests that name no interface.
	DefaultIfName string
	// CheckCallState checks the device's telephony service before every
	// call key event.
	CheckCallState bool
}

// Dispatcher has no state of its own; all shared state lives in the
// components it is built from, each with its own lock.
type Dispatcher struct {
	devices usb.Enumerator
	bridge  *helper.Bridge
	links   *netif.Controller
	notes   *notify.State
	opts    Options
	log     zerolog.Logger
}

func New(devices usb.Enumerator, bridge *helper.Bridge, links *netif.Controller, notes *notify.State, opts Options, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		devices: devices,
		bridge:  bridge,
		links:   links,
		notes:   notes,
		opts:    opts,
		log:     log,
	}
}

// Dispatch decodes block for cmd and runs it. The status is the result:
// Detect yields 1 or 0, other commands 0, failures a negative errno. The
// error explains a negative status and is nil otherwise.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd control.Command, block []byte) (int32, error) {
	req, err := control.Decode(cmd, block)
	if err != nil {
		d.log.Warn().Stringer("command", cmd).Err(err).Msg("rejected argument block")
		return control.Status(err), err
	}
	return d.Execute(ctx, req)
}

// Execute runs an already decoded request. A panicking handler is
// reported as an i/o failure.
func (d *Dispatcher) Execute(ctx context.Context, req control.Request) (status int32, err error) {
	if req == nil {
		err = fmt.Errorf("%w: nil request", control.ErrInvalidArgument)
		return control.Status(err), err
	}
	cmd := req.Command()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Stringer("command", cmd).Interface("panic", r).Msg("command handler panicked")
			status, err = control.StatusIO, fmt.Errorf("%w: %s handler panicked: %v", control.ErrIO, cmd, r)
		}
	}()

	switch r := req.(type) {
	case control.DetectRequest:
		if d.detect() {
			return 1, nil
		}
		return 0, nil
	case control.TransferRequest:
		err = d.transfer(ctx, r)
	case control.TetherRequest:
		err = d.tether(r)
	case control.NotifyRequest:
		d.notes.Set(r.Enable)
	case control.CallRequest:
		err = d.call(ctx, r)
	case control.MediaRequest:
		err = d.media(ctx, r)
	default:
		err = fmt.Errorf("%w: unsupported request %T", control.ErrInvalidArgument, req)
	}
	if err != nil {
		d.log.Warn().Stringer("command", cmd).Err(err).Msg("command failed")
	}
	return control.Status(err), err
}

func (d *Dispatcher) detect() bool {
	dev, ok := usb.Find(d.devices.Enumerate(), usb.PhoneLike)
	if ok {
		d.log.Info().Stringer("device", dev).Msg("phone detected")
	}
	return ok
}

// transfer only proceeds when a device exposes an MTP interface; a
// tethering-only or adb-only device is not a transfer target.
func (d *Dispatcher) transfer(ctx context.Context, r control.TransferRequest) error {
	dev, ok := usb.Find(d.devices.Enumerate(), usb.MTPCapable)
	if !ok {
		return fmt.Errorf("%w: no file-transfer capable device attached", control.ErrNotFound)
	}
	d.log.Info().Stringer("device", dev).Str("path", r.Path).Bool("push", r.Push).Msg("file transfer")
	if r.Push {
		return d.bridge.Push(ctx, r.Path)
	}
	return d.bridge.Pull(ctx, r.Path)
}

func (d *Dispatcher) tether(r control.TetherRequest) error {
	name := r.IfName
	if name == "" {
		name = d.opts.DefaultIfName
	}
	return d.links.SetInterfaceUp(name, r.Up)
}

func (d *Dispatcher) call(ctx context.Context, r control.CallRequest) error {
	if d.opts.CheckCallState {
		if err := d.bridge.CheckCallState(ctx); err != nil {
			return err
		}
	}
	key := helper.KeyEndCall
	if r.Answer {
		key = helper.KeyCall
	}
	return d.bridge.KeyEvent(ctx, key)
}

func (d *Dispatcher) media(ctx context.Context, r control.MediaRequest) error {
	key := helper.KeyVolumeDown
	if r.VolumeUp {
		key = helper.KeyVolumeUp
	}
	return d.bridge.KeyEvent(ctx, key)
}

// NotificationsEnabled reports the current notifications switch.
func (d *Dispatcher) NotificationsEnabled() bool {
	return d.notes.Enabled()
}
