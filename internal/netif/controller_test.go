package netif

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mil-ad/mobdevctl/internal/control"
)

type fakeRegistry struct {
	mu       sync.Mutex
	up       map[string]bool
	writes   map[string]int
	acquired int
	released int
}

func newFakeRegistry(state map[string]bool) *fakeRegistry {
	return &fakeRegistry{up: state, writes: make(map[string]int)}
}

func (r *fakeRegistry) Acquire(name string) (Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.up[name]; !ok {
		return nil, notFound(name)
	}
	r.acquired++
	return &fakeLink{reg: r, name: name}, nil
}

type fakeLink struct {
	reg  *fakeRegistry
	name string
}

func (l *fakeLink) IsUp() (bool, error) {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	return l.reg.up[l.name], nil
}

func (l *fakeLink) SetUp(up bool) error {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	l.reg.up[l.name] = up
	l.reg.writes[l.name]++
	return nil
}

func (l *fakeLink) Close() error {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	l.reg.released++
	return nil
}

func TestSetInterfaceUpChangesState(t *testing.T) {
	reg := newFakeRegistry(map[string]bool{"usb0": false})
	c := NewController(reg, zerolog.Nop())

	if err := c.SetInterfaceUp("usb0", true); err != nil {
		t.Fatalf("bring usb0 up: %v", err)
	}
	if !reg.up["usb0"] || reg.writes["usb0"] != 1 {
		t.Fatalf("expected one write bringing usb0 up, state=%v writes=%d", reg.up["usb0"], reg.writes["usb0"])
	}
	if reg.acquired != reg.released {
		t.Fatalf("handle leaked: acquired=%d released=%d", reg.acquired, reg.released)
	}
}

func TestSetInterfaceUpIdempotent(t *testing.T) {
	reg := newFakeRegistry(map[string]bool{"usb0": true})
	c := NewController(reg, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if err := c.SetInterfaceUp("usb0", true); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if reg.writes["usb0"] != 0 {
		t.Fatalf("expected no flag writes, got %d", reg.writes["usb0"])
	}
}

func TestSetInterfaceUpMissing(t *testing.T) {
	reg := newFakeRegistry(map[string]bool{"usb0": false, "eth0": true})
	c := NewController(reg, zerolog.Nop())

	err := c.SetInterfaceUp("rndis9", true)
	if !errors.Is(err, control.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(reg.writes) != 0 || reg.up["usb0"] || !reg.up["eth0"] {
		t.Fatalf("existing interfaces were touched: %v writes=%v", reg.up, reg.writes)
	}
}

func TestSetInterfaceUpConcurrent(t *testing.T) {
	reg := newFakeRegistry(map[string]bool{"usb0": false})
	c := NewController(reg, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.SetInterfaceUp("usb0", true); err != nil {
				t.Errorf("set up: %v", err)
			}
		}()
	}
	wg.Wait()
	if reg.writes["usb0"] != 1 {
		t.Fatalf("serialised callers should write once, got %d", reg.writes["usb0"])
	}
}
