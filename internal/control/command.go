// Package control holds the types shared by the control channel and the
// dispatcher: command codes, the fixed-layout argument block, the typed
// requests decoded from it and the status codes returned to callers.
package control

import "fmt"

// Command identifies one control operation.
type Command uint32

const (
	Detect Command = iota
	FileTransfer
	Tethering
	Notifications
	CallControl
	MediaControl
)

var commandNames = [...]string{
	Detect:        "detect",
	FileTransfer:  "transfer",
	Tethering:     "tether",
	Notifications: "notify",
	CallControl:   "call",
	MediaControl:  "media",
}

// Valid reports whether c is one of the known commands.
func (c Command) Valid() bool {
	return c <= MediaControl
}

// NeedsArgs reports whether c reads an argument block.
func (c Command) NeedsArgs() bool {
	return c.Valid() && c != Detect
}

func (c Command) String() string {
	if !c.Valid() {
		return fmt.Sprintf("command(%d)", uint32(c))
	}
	return commandNames[c]
}

// ParseCommand maps a CLI verb to its command code.
func ParseCommand(verb string) (Command, bool) {
	for i, name := range commandNames {
		if name == verb {
			return Command(i), true
		}
	}
	return 0, false
}
