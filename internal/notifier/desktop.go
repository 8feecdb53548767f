package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = "org.freedesktop.Notifications.Notify"
)

// Desktop shows a freedesktop notification on the user's session bus.
// The bus connection is opened on first use.
type Desktop struct {
	appName string
	// ExpireMS is the display timeout in milliseconds; -1 leaves it to the server.
	ExpireMS int32

	mu      sync.Mutex
	conn    *dbus.Conn
	connect func(ctx context.Context) (*dbus.Conn, error)
}

func NewDesktop(appName string) *Desktop {
	if strings.TrimSpace(appName) == "" {
		appName = "crawlchain"
	}
	return &Desktop{
		appName:  appName,
		ExpireMS: -1,
		connect: func(ctx context.Context) (*dbus.Conn, error) {
			return dbus.ConnectSessionBus(dbus.WithContext(ctx))
		},
	}
}

func (d *Desktop) Name() string { return "dbus" }

func (d *Desktop) session(ctx context.Context) (*dbus.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil && d.conn.Connected() {
		return d.conn, nil
	}
	conn, err := d.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	d.conn = conn
	return conn, nil
}

func (d *Desktop) Send(ctx context.Context, title, body string) error {
	conn, err := d.session(ctx)
	if err != nil {
		return err
	}
	var id uint32
	call := conn.Object(notifyDest, notifyPath).CallWithContext(ctx, notifyMethod, 0,
		d.appName,                 // app_name
		uint32(0),                 // replaces_id
		"dialog-warning",          // app_icon
		title,                     // summary
		body,                      // body
		[]string{},                // actions
		map[string]dbus.Variant{}, // hints
		d.ExpireMS,                // expire_timeout
	)
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("desktop notify: %w", err)
	}
	return nil
}

func (d *Desktop) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}
