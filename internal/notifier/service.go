package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"crawlchain/internal/eventbus"
	logx "crawlchain/pkg/logx"
)

const defaultTimeout = 30 * time.Second

// Service routes notifications to the driver configured for each channel.
// It is safe for concurrent use.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.RWMutex
	timeout time.Duration
	drivers map[Channel]Driver
}

// New builds the drivers described by cfg.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{log: log.With(logx.String("comp", "notifier")), bus: bus}
	if err := s.Apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithDrivers wires explicit drivers.
func NewWithDrivers(drivers map[Channel]Driver, timeout time.Duration, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{log: log.With(logx.String("comp", "notifier")), bus: bus, timeout: timeout, drivers: drivers}
}

// Apply rebuilds drivers from cfg. On error the previous drivers stay active.
func (s *Service) Apply(cfg Config) error {
	popup, err := buildPopup(cfg.Popup, s.log)
	if err != nil {
		return err
	}
	email, err := buildEmail(cfg.Email, s.log)
	if err != nil {
		return err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s.mu.Lock()
	prev := s.drivers
	s.timeout = timeout
	s.drivers = map[Channel]Driver{Popup: popup, Email: email}
	s.mu.Unlock()
	closeDrivers(prev)

	s.log.Debug("drivers configured", logx.String("popup", popup.Name()), logx.String("email", email.Name()))
	return nil
}

// Close releases driver resources such as the session bus connection.
func (s *Service) Close() error {
	s.mu.Lock()
	prev := s.drivers
	s.drivers = nil
	s.mu.Unlock()
	return closeDrivers(prev)
}

func closeDrivers(drivers map[Channel]Driver) error {
	var errs []error
	for _, d := range drivers {
		if c, ok := d.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func buildPopup(cfg PopupConfig, log logx.Logger) (Driver, error) {
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "dbus":
		return NewDesktop(cfg.AppName), nil
	case "telegram":
		return NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	case "log":
		return NewLogDriver(Popup, log), nil
	default:
		return nil, fmt.Errorf("notifier: unknown popup driver %q", d)
	}
}

func buildEmail(cfg EmailConfig, log logx.Logger) (Driver, error) {
	d := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if d == "" {
		d = "log"
		if strings.TrimSpace(cfg.Host) != "" {
			d = "smtp"
		}
	}
	switch d {
	case "smtp":
		return NewSMTP(cfg)
	case "log":
		return NewLogDriver(Email, log), nil
	default:
		return nil, fmt.Errorf("notifier: unknown email driver %q", d)
	}
}

// Notify sends one message on ch and reports the driver's result.
func (s *Service) Notify(ctx context.Context, ch Channel, title, body string) error {
	s.mu.RLock()
	d, ok := s.drivers[ch]
	timeout := s.timeout
	s.mu.RUnlock()

	if ch != Popup && ch != Email {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
	if !ok || d == nil {
		return fmt.Errorf("%w: %s", ErrNotConfigured, ch)
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := d.Send(sctx, title, body)
	ev := Event{Channel: ch, Driver: d.Name(), Title: title, Took: time.Since(start)}
	if err != nil {
		ev.Error = err.Error()
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Data: ev})
		s.log.Warn("notification failed", logx.String("channel", string(ch)), logx.String("driver", d.Name()), logx.Err(err))
		return fmt.Errorf("notify %s via %s: %w", ch, d.Name(), err)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifySent, Data: ev})
	s.log.Info("notification sent", logx.String("channel", string(ch)), logx.String("driver", d.Name()), logx.Duration("took", ev.Took))
	return nil
}
