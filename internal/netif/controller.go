// Package netif toggles the administrative state of network interfaces.
package netif

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mil-ad/mobdevctl/internal/control"
)

// Link is a handle on one interface. It is only valid until Close.
type Link interface {
	IsUp() (bool, error)
	SetUp(up bool) error
	Close() error
}

// Registry resolves interface names. Acquire fails with an error wrapping
// control.ErrNotFound when no interface has that name.
type Registry interface {
	Acquire(name string) (Link, error)
}

// Controller serialises every interface mutation made by the process.
type Controller struct {
	mu  sync.Mutex
	reg Registry
	log zerolog.Logger
}

func NewController(reg Registry, log zerolog.Logger) *Controller {
	return &Controller{reg: reg, log: log}
}

// SetInterfaceUp brings name up or down. An interface already in the
// requested state is left alone.
func (c *Controller) SetInterfaceUp(name string, up bool) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	link, err := c.reg.Acquire(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := link.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("release %s: %w", name, cerr)
		}
	}()

	cur, err := link.IsUp()
	if err != nil {
		return fmt.Errorf("read flags of %s: %w", name, err)
	}
	if cur == up {
		c.log.Debug().Str("ifname", name).Bool("up", up).Msg("interface already in requested state")
		return nil
	}
	if err := link.SetUp(up); err != nil {
		return fmt.Errorf("set flags of %s: %w", name, err)
	}
	c.log.Info().Str("ifname", name).Bool("up", up).Msg("interface state changed")
	return nil
}

func notFound(name string) error {
	return fmt.Errorf("%w: interface %q", control.ErrNotFound, name)
}
