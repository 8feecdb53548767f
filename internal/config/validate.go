package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// Report json field names so errors point at the config keys.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks struct tags, duration strings and cross-field constraints.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error

	r := cfg.Runner
	if r.MinConcurrency > 0 && r.MaxConcurrency > 0 && r.MinConcurrency > r.MaxConcurrency {
		errs = append(errs, fmt.Errorf("runner: min_concurrency (%d) > max_concurrency (%d)", r.MinConcurrency, r.MaxConcurrency))
	}

	e := cfg.Escalation
	from, until, day := hourOr(e.AllowFromHour, 9), hourOr(e.AllowUntilHour, 24), hourOr(e.DaytimeUntilHour, 18)
	if from >= until {
		errs = append(errs, fmt.Errorf("escalation: allow_from_hour (%d) must be < allow_until_hour (%d)", from, until))
	}
	if day < from || day > until {
		errs = append(errs, fmt.Errorf("escalation: daytime_until_hour (%d) must be within [%d, %d]", day, from, until))
	}
	if tz := strings.TrimSpace(e.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("escalation.timezone: %w", err))
		}
	}

	if cfg.Notifier.Popup.Driver == "telegram" {
		t := cfg.Notifier.Popup.Telegram
		if strings.TrimSpace(t.Token) == "" || t.ChatID == 0 {
			errs = append(errs, errors.New("notifier.popup.telegram: token and chat_id are required"))
		}
	}
	if cfg.Notifier.Email.Driver == "smtp" {
		m := cfg.Notifier.Email
		if strings.TrimSpace(m.Host) == "" || strings.TrimSpace(m.From) == "" || len(m.To) == 0 {
			errs = append(errs, errors.New("notifier.email: host, from and to are required for smtp"))
		}
	}

	for path, raw := range map[string]string{
		"runner.autoscale_every":    r.AutoscaleEvery,
		"progress.interval":         cfg.Progress.Interval,
		"alerts.window":             cfg.Alerts.Window,
		"escalation.email_interval": e.EmailInterval,
		"notifier.timeout":          cfg.Notifier.Timeout,
		"visit.timeout":             cfg.Visit.Timeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func hourOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
