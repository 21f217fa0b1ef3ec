package control

import (
	"bytes"
	"encoding/binary"
	"path"
	"strings"
	"unicode"
)

// Field bounds of the argument block, including the terminating NUL.
const (
	PathSize   = 128
	IfNameSize = 32

	offEnable = 0
	offPath   = offEnable + 4
	offIfName = offPath + PathSize
	offAction = offIfName + IfNameSize

	// ArgsSize is the exact length of an encoded argument block.
	ArgsSize = offAction + 4
)

// Args is the caller's view of the argument block. Not every command reads
// every field; Decode picks the ones that matter.
type Args struct {
	Enable bool   // push vs pull, on vs off
	Path   string // transfer target
	IfName string // tethering interface
	Action bool   // answer/volume-up vs reject/volume-down
}

// MarshalBinary encodes a into the fixed block layout. Strings longer than
// their field are truncated and every string is NUL terminated.
func (a Args) MarshalBinary() ([]byte, error) {
	block := make([]byte, ArgsSize)
	binary.LittleEndian.PutUint32(block[offEnable:], boolWord(a.Enable))
	putCString(block[offPath:offPath+PathSize], a.Path)
	putCString(block[offIfName:offIfName+IfNameSize], a.IfName)
	binary.LittleEndian.PutUint32(block[offAction:], boolWord(a.Action))
	return block, nil
}

// Decode copies block and turns it into the typed request for cmd. A nil
// block for a command that needs arguments is rejected as an invalid
// argument; a block of the wrong length could not be copied and is an
// access fault. Detect never looks at the block.
func Decode(cmd Command, block []byte) (Request, error) {
	if !cmd.Valid() {
		return nil, invalidArgument("unknown command %d", uint32(cmd))
	}
	if !cmd.NeedsArgs() {
		return DetectRequest{}, nil
	}
	if block == nil {
		return nil, invalidArgument("%s requires an argument block", cmd)
	}
	if len(block) != ArgsSize {
		return nil, accessFault("block is %d bytes, want %d", len(block), ArgsSize)
	}

	// All interpretation happens on the private copy.
	var raw [ArgsSize]byte
	copy(raw[:], block)
	args := Args{
		Enable: binary.LittleEndian.Uint32(raw[offEnable:]) != 0,
		Path:   cString(raw[offPath : offPath+PathSize]),
		IfName: cString(raw[offIfName : offIfName+IfNameSize]),
		Action: binary.LittleEndian.Uint32(raw[offAction:]) != 0,
	}

	switch cmd {
	case FileTransfer:
		if err := checkPath(args.Path); err != nil {
			return nil, err
		}
		// The helper runs from /, so a relative local path means nothing.
		if args.Enable && !path.IsAbs(args.Path) {
			return nil, invalidArgument("push path %q is not absolute", args.Path)
		}
		return TransferRequest{Path: args.Path, Push: args.Enable}, nil
	case Tethering:
		if args.IfName != "" && !ValidIfName(args.IfName) {
			return nil, invalidArgument("bad interface name %q", args.IfName)
		}
		return TetherRequest{IfName: args.IfName, Up: args.Enable}, nil
	case Notifications:
		return NotifyRequest{Enable: args.Enable}, nil
	case CallControl:
		return CallRequest{Answer: args.Action}, nil
	default:
		return MediaRequest{VolumeUp: args.Action}, nil
	}
}

// ValidIfName applies the kernel's rules for network interface names.
func ValidIfName(name string) bool {
	if name == "" || len(name) >= IfNameSize || name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		if r == '/' || r == ':' || unicode.IsSpace(r) || r == 0 {
			return false
		}
	}
	return true
}

func checkPath(p string) error {
	if p == "" {
		return invalidArgument("empty transfer path")
	}
	// The path ends up in the helper's argv; keep it from reading as a flag.
	if strings.HasPrefix(p, "-") {
		return invalidArgument("transfer path %q looks like an option", p)
	}
	for _, r := range p {
		if unicode.IsControl(r) {
			return invalidArgument("transfer path contains control characters")
		}
	}
	return nil
}

func cString(field []byte) string {
	field[len(field)-1] = 0
	return string(field[:bytes.IndexByte(field, 0)])
}

func putCString(field []byte, s string) {
	n := copy(field[:len(field)-1], s)
	clear(field[n:])
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
