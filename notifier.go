package main

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	notifyBusName = "io.mobdevctl"
	notifyPath    = dbus.ObjectPath("/io/mobdevctl")
	notifyIface   = "io.mobdevctl.Notifications"
	changedSignal = notifyIface + ".Changed"
)

// notifier tells user sessions that notifications were switched, with a
// D-Bus signal. Without a bus it only logs.
type notifier struct {
	conn *dbus.Conn
	log  zerolog.Logger
}

func newNotifier(bus string, log zerolog.Logger) *notifier {
	n := &notifier{log: log}
	if bus == "none" {
		return n
	}
	conn, err := connectBus(bus)
	if err != nil {
		log.Warn().Err(err).Str("bus", bus).Msg("notification signals disabled")
		return n
	}
	// Owning the name needs a bus policy; signals go out without it.
	reply, err := conn.RequestName(notifyBusName, dbus.NameFlagDoNotQueue)
	if err != nil || reply != dbus.RequestNameReplyPrimaryOwner {
		log.Debug().Err(err).Str("name", notifyBusName).Msg("bus name not owned")
	}
	n.conn = conn
	return n
}

func connectBus(bus string) (*dbus.Conn, error) {
	switch bus {
	case "session":
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return nil, fmt.Errorf("connect to session bus: %w", err)
		}
		return conn, nil
	default:
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			return nil, fmt.Errorf("connect to system bus: %w", err)
		}
		return conn, nil
	}
}

func (n *notifier) NotificationsChanged(enabled bool) error {
	if n.conn == nil {
		n.log.Info().Bool("enabled", enabled).Msg("notifications changed (no bus)")
		return nil
	}
	if err := n.conn.Emit(notifyPath, changedSignal, enabled); err != nil {
		return fmt.Errorf("emit %s: %w", changedSignal, err)
	}
	return nil
}

func (n *notifier) close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
