package notifier

import (
	"context"
	"errors"
	"time"
)

// Channel selects how a notification reaches a human.
type Channel string

const (
	Popup Channel = "popup"
	Email Channel = "email"
)

var (
	ErrUnknownChannel = errors.New("notifier: unknown channel")
	ErrNotConfigured  = errors.New("notifier: channel not configured")
)

// Driver delivers a single message on one channel.
type Driver interface {
	Name() string
	Send(ctx context.Context, title, body string) error
}

type Config struct {
	// Timeout bounds a single send. Default 30s.
	Timeout time.Duration
	Popup   PopupConfig
	Email   EmailConfig
}

type PopupConfig struct {
	// Driver is "dbus" (default), "telegram" or "log".
	Driver         string
	AppName        string
	TelegramToken  string
	TelegramChatID int64
}

type EmailConfig struct {
	// Driver is "smtp" or "log" (default when no host is set).
	Driver   string
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	// TLS is "starttls" (default), "tls" or "none".
	TLS string
}

// Event is published on the bus after every send attempt.
type Event struct {
	Channel Channel       `json:"channel"`
	Driver  string        `json:"driver"`
	Title   string        `json:"title"`
	Took    time.Duration `json:"took"`
	Error   string        `json:"error,omitempty"`
}
