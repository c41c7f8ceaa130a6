package alarm

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	appLog "confsched/internal/log"
)

const (
	notifyObj    = "org.freedesktop.Notifications"
	notifyPath   = "/org/freedesktop/Notifications"
	notifyMethod = "org.freedesktop.Notifications.Notify"
	// notifyTimeout lets the notification server pick the expiry.
	notifyTimeout = int32(-1)
)

// Notifier shows a fired alarm to the user.
type Notifier interface {
	Notify(ctx context.Context, p Payload) error
}

// DBusNotifier sends desktop notifications over the session bus.
type DBusNotifier struct {
	appName string
	bus     *dbus.Conn
}

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier(appName string) (*DBusNotifier, error) {
	bus, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DBusNotifier{appName: appName, bus: bus}, nil
}

func (n *DBusNotifier) Notify(ctx context.Context, p Payload) error {
	obj := n.bus.Object(notifyObj, notifyPath)
	call := obj.CallWithContext(ctx,
		notifyMethod,
		0,
		n.appName,
		uint32(0),
		"",
		p.Title,
		p.Body,
		[]string{},
		map[string]dbus.Variant{"category": dbus.MakeVariant("im.received")},
		notifyTimeout,
	)
	if call.Err != nil {
		return fmt.Errorf("send notification %q: %w", p.Title, call.Err)
	}
	return nil
}

func (n *DBusNotifier) Close() error {
	return n.bus.Close()
}

// LogNotifier writes notifications to the application log. Used on headless
// hosts without a session bus.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, p Payload) error {
	appLog.Info("event starting soon", "title", p.Title, "details", p.Body)
	return nil
}
