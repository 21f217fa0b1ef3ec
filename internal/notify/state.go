// Package notify owns the notifications on/off switch.
package notify

import (
	"sync"

	"github.com/rs/zerolog"
)

// Sink receives a call for every transition of the switch. It is the hand
// off to whatever delivers notifications to user sessions.
type Sink interface {
	NotificationsChanged(enabled bool) error
}

// State is the authoritative notifications flag. Create one per process
// with New; it starts disabled and lives until the process exits.
type State struct {
	mu      sync.Mutex
	enabled bool
	sink    Sink
	log     zerolog.Logger
}

func New(sink Sink, log zerolog.Logger) *State {
	return &State{sink: sink, log: log}
}

// Set switches notifications on or off and reports whether the flag
// changed. The sink fires only on a change, while the lock is held, so
// concurrent callers see transitions in order. Sink failures are logged
// and do not undo the transition.
func (s *State) Set(enable bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled == enable {
		return false
	}
	s.enabled = enable
	s.log.Info().Bool("enabled", enable).Msg("notifications switched")
	if s.sink != nil {
		if err := s.sink.NotificationsChanged(enable); err != nil {
			s.log.Warn().Err(err).Msg("notification sink failed")
		}
	}
	return true
}

func (s *State) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}
