package usb

import "iter"

// Matcher decides whether a single interface setting is interesting.
type Matcher func(Setting) bool

// PhoneLike matches still-image, wireless-controller and vendor-specific
// interfaces. It is a heuristic: it catches MTP, RNDIS and adb interfaces
// across Android and iOS without a vendor/product table, at the price of
// also matching some non-phones.
func PhoneLike(s Setting) bool {
	switch s.Class {
	case ClassStillImage, ClassWireless, ClassVendorSpecific:
		return true
	}
	return false
}

// MTPCapable matches still-image interfaces and the vendor-specific
// 0xff/0xff/0x00 triple Android uses for MTP.
func MTPCapable(s Setting) bool {
	if s.Class == ClassStillImage {
		return true
	}
	return s.Class == ClassVendorSpecific &&
		s.SubClass == SubClassVendorSpecific &&
		s.Protocol == 0
}

// Find returns the first device with a setting accepted by match. The walk
// stops at the first hit.
func Find(devs iter.Seq[Device], match Matcher) (Device, bool) {
	for dev, s := range allSettings(devs) {
		if match(s) {
			return dev, true
		}
	}
	return Device{}, false
}

// allSettings flattens devs into (device, setting) pairs.
func allSettings(devs iter.Seq[Device]) iter.Seq2[Device, Setting] {
	return func(yield func(Device, Setting) bool) {
		for dev := range devs {
			for s := range dev.Settings() {
				if !yield(dev, s) {
					return
				}
			}
		}
	}
}

// IsPhone reports whether any device looks like a phone.
func IsPhone(devs iter.Seq[Device]) bool {
	_, ok := Find(devs, PhoneLike)
	return ok
}

// IsMTP reports whether any device exposes a file-transfer interface.
func IsMTP(devs iter.Seq[Device]) bool {
	_, ok := Find(devs, MTPCapable)
	return ok
}
