// Package usb describes attached USB devices and decides which of them look
// like phones.
package usb

import (
	"fmt"
	"iter"
)

// Class is a USB-IF class or subclass code.
type Class uint8

// Interface classes the phone heuristic cares about.
const (
	ClassAudio          Class = 0x01
	ClassComm           Class = 0x02
	ClassHID            Class = 0x03
	ClassStillImage     Class = 0x06 // MTP/PTP
	ClassMassStorage    Class = 0x08
	ClassWireless       Class = 0xe0 // RNDIS
	ClassVendorSpecific Class = 0xff

	SubClassVendorSpecific Class = 0xff
)

// Setting is one alternate setting of one interface.
type Setting struct {
	Interface int
	Alternate int
	Class     Class
	SubClass  Class
	Protocol  uint8
}

type Interface struct {
	Number      int
	AltSettings []Setting
}

type Config struct {
	Number     int
	Interfaces []Interface
}

// Device is a read-only snapshot of one attached device, taken during a
// single enumeration.
type Device struct {
	Bus     int
	Address int
	Vendor  uint16
	Product uint16
	Configs []Config
}

func (d Device) String() string {
	return fmt.Sprintf("%03d.%03d %04x:%04x", d.Bus, d.Address, d.Vendor, d.Product)
}

// Settings yields every alternate setting of every interface of every
// configuration, in descriptor order.
func (d Device) Settings() iter.Seq[Setting] {
	return func(yield func(Setting) bool) {
		for _, cfg := range d.Configs {
			for _, intf := range cfg.Interfaces {
				for _, alt := range intf.AltSettings {
					if !yield(alt) {
						return
					}
				}
			}
		}
	}
}

// Enumerator lists the devices attached right now. Each call walks the
// live topology again; an unavailable USB subsystem yields nothing.
type Enumerator interface {
	Enumerate() iter.Seq[Device]
}

// Static is an Enumerator over a fixed device list.
type Static []Device

func (s Static) Enumerate() iter.Seq[Device] {
	return func(yield func(Device) bool) {
		for _, d := range s {
			if !yield(d) {
				return
			}
		}
	}
}
