// Package libusb enumerates attached devices through libusb.
package libusb

import (
	"cmp"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/google/gousb"
	"github.com/rs/zerolog"

	"github.com/mil-ad/mobdevctl/internal/usb"
)

// Enumerator reads descriptors of every attached device without opening
// any of them. A fresh libusb context is used per enumeration.
type Enumerator struct {
	Log zerolog.Logger
	// Debug is the libusb log level, 0 to 4.
	Debug int
}

var _ usb.Enumerator = Enumerator{}

func (e Enumerator) Enumerate() iter.Seq[usb.Device] {
	return func(yield func(usb.Device) bool) {
		devs, err := e.snapshot()
		if err != nil {
			e.Log.Warn().Err(err).Msg("usb enumeration unavailable")
			return
		}
		for _, d := range devs {
			if !yield(d) {
				return
			}
		}
	}
}

func (e Enumerator) snapshot() ([]usb.Device, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, err
	}
	defer ctx.Close()
	if e.Debug > 0 {
		ctx.Debug(e.Debug)
	}

	var devs []usb.Device
	// Returning false keeps libusb from opening anything.
	_, err = ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		devs = append(devs, convert(desc))
		return false
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	slices.SortFunc(devs, func(a, b usb.Device) int {
		if c := cmp.Compare(a.Bus, b.Bus); c != 0 {
			return c
		}
		return cmp.Compare(a.Address, b.Address)
	})
	e.Log.Debug().Int("devices", len(devs)).Msg("usb enumeration")
	return devs, nil
}

// newContext turns libusb init failures, which gousb reports by panicking,
// into errors.
func newContext() (ctx *gousb.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init libusb: %v", r)
		}
	}()
	return gousb.NewContext(), nil
}

func convert(desc *gousb.DeviceDesc) usb.Device {
	dev := usb.Device{
		Bus:     desc.Bus,
		Address: desc.Address,
		Vendor:  uint16(desc.Vendor),
		Product: uint16(desc.Product),
	}
	for _, num := range slices.Sorted(maps.Keys(desc.Configs)) {
		cfg := desc.Configs[num]
		out := usb.Config{Number: cfg.Number}
		for _, intf := range cfg.Interfaces {
			i := usb.Interface{Number: intf.Number}
			for _, alt := range intf.AltSettings {
				i.AltSettings = append(i.AltSettings, usb.Setting{
					Interface: alt.Number,
					Alternate: alt.Alternate,
					Class:     usb.Class(alt.Class),
					SubClass:  usb.Class(alt.SubClass),
					Protocol:  uint8(alt.Protocol),
				})
			}
			out.Interfaces = append(out.Interfaces, i)
		}
		dev.Configs = append(dev.Configs, out)
	}
	return dev
}
