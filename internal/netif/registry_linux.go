package netif

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/mil-ad/mobdevctl/internal/control"
)

// SysRegistry talks to the kernel with SIOCGIFFLAGS/SIOCSIFFLAGS on a
// datagram socket. Setting flags needs CAP_NET_ADMIN.
type SysRegistry struct{}

var _ Registry = SysRegistry{}

func (SysRegistry) Acquire(name string) (Link, error) {
	if !control.ValidIfName(name) {
		return nil, fmt.Errorf("%w: bad interface name %q", control.ErrInvalidArgument, name)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open control socket: %w", err)
	}
	link := &sysLink{fd: fd, name: name}
	// Resolve now so a missing interface fails before any mutation.
	if _, err := link.flags(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return link, nil
}

type sysLink struct {
	fd   int
	name string
}

func (l *sysLink) flags() (uint16, error) {
	ifr, err := unix.NewIfreq(l.name)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", control.ErrInvalidArgument, err)
	}
	if err := unix.IoctlIfreq(l.fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENXIO) {
			return 0, notFound(l.name)
		}
		return 0, fmt.Errorf("SIOCGIFFLAGS %s: %w", l.name, err)
	}
	return ifr.Uint16(), nil
}

func (l *sysLink) IsUp() (bool, error) {
	flags, err := l.flags()
	if err != nil {
		return false, err
	}
	return flags&unix.IFF_UP != 0, nil
}

func (l *sysLink) SetUp(up bool) error {
	flags, err := l.flags()
	if err != nil {
		return err
	}
	if up {
		flags |= unix.IFF_UP
	} else {
		flags &^= unix.IFF_UP
	}
	ifr, err := unix.NewIfreq(l.name)
	if err != nil {
		return fmt.Errorf("%w: %v", control.ErrInvalidArgument, err)
	}
	ifr.SetUint16(flags)
	if err := unix.IoctlIfreq(l.fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		if errors.Is(err, unix.ENODEV) {
			return notFound(l.name)
		}
		return fmt.Errorf("SIOCSIFFLAGS %s: %w", l.name, err)
	}
	return nil
}

func (l *sysLink) Close() error {
	return unix.Close(l.fd)
}
