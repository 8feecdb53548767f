package app

import (
	"fmt"
	"strings"
	"time"

	"crawlchain/internal/alert/aggregator"
	"crawlchain/internal/alert/escalator"
	"crawlchain/internal/config"
	"crawlchain/internal/job/progress"
	"crawlchain/internal/job/runner"
	"crawlchain/internal/notifier"
	"crawlchain/internal/observability/status"
	"crawlchain/internal/storage"
	"crawlchain/internal/visit"
	logx "crawlchain/pkg/logx"
)

const (
	defaultTasksDir    = "./tasks"
	defaultArchiveDir  = "./archive"
	defaultTemplateDir = "./templates"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Journal: logx.JournalConfig{
			Enabled:    l.Journal.Enabled,
			Identifier: l.Journal.Identifier,
			MinLevel:   l.Journal.MinLevel,
			RatePerSec: l.Journal.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{Driver: cfg.Storage.Driver, Dir: cfg.Storage.Dir}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	timeout, err := parseDurationField("notifier.timeout", n.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Timeout: timeout,
		Popup: notifier.PopupConfig{
			Driver:         n.Popup.Driver,
			AppName:        n.Popup.AppName,
			TelegramToken:  n.Popup.Telegram.Token,
			TelegramChatID: n.Popup.Telegram.ChatID,
		},
		Email: notifier.EmailConfig{
			Driver:   n.Email.Driver,
			Host:     n.Email.Host,
			Port:     n.Email.Port,
			Username: n.Email.Username,
			Password: n.Email.Password,
			From:     n.Email.From,
			To:       n.Email.To,
			TLS:      n.Email.TLS,
		},
	}, nil
}

func mapEscalatorConfig(cfg *config.Config) (escalator.Config, error) {
	e := cfg.Escalation
	def := escalator.DefaultPolicy()
	interval, err := parseDurationField("escalation.email_interval", e.EmailInterval)
	if err != nil {
		return escalator.Config{}, err
	}
	var loc *time.Location
	if tz := strings.TrimSpace(e.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return escalator.Config{}, fmt.Errorf("escalation.timezone: %w", err)
		}
	}
	return escalator.Config{
		Policy: escalator.Policy{
			AllowFromHour:    intOr(e.AllowFromHour, def.AllowFromHour),
			AllowUntilHour:   intOr(e.AllowUntilHour, def.AllowUntilHour),
			DaytimeUntilHour: intOr(e.DaytimeUntilHour, def.DaytimeUntilHour),
		},
		EmailInterval:    interval,
		PopupMaxMessages: e.PopupMaxMessages,
		PopupMaxChars:    e.PopupMaxChars,
		Location:         loc,
	}, nil
}

func mapAlertConfig(cfg *config.Config, label string) (aggregator.Config, error) {
	a := cfg.Alerts
	window, err := parseDurationField("alerts.window", a.Window)
	if err != nil {
		return aggregator.Config{}, err
	}
	return aggregator.Config{
		Label:     label,
		Threshold: a.Threshold,
		Window:    window,
		BatchSize: a.BatchSize,
	}, nil
}

// mapRunnerConfig translates max_retries: omitted keeps the runner default,
// an explicit 0 disables retries.
func mapRunnerConfig(rc config.RunnerConfig) (runner.Config, error) {
	every, err := parseDurationField("runner.autoscale_every", rc.AutoscaleEvery)
	if err != nil {
		return runner.Config{}, err
	}
	retries := 0
	if rc.MaxRetries != nil {
		retries = *rc.MaxRetries
		if retries == 0 {
			retries = -1
		}
	}
	return runner.Config{
		MinConcurrency: rc.MinConcurrency,
		MaxConcurrency: rc.MaxConcurrency,
		MaxRetries:     retries,
		MaxJobsPerRun:  rc.MaxJobsPerRun,
		RatePerSec:     rc.RatePerSec,
		AutoscaleEvery: every,
	}, nil
}

func mapVisitConfig(vc config.VisitConfig) (visit.Config, error) {
	timeout, err := parseDurationOrDefault("visit.timeout", vc.Timeout, visit.DefaultTimeout)
	if err != nil {
		return visit.Config{}, err
	}
	headless := true
	if vc.Headless != nil {
		headless = *vc.Headless
	}
	return visit.Config{
		Driver:    vc.Driver,
		Timeout:   timeout,
		UserAgent: vc.UserAgent,
		Headless:  headless,
		ExecPath:  vc.ExecPath,
		Proxy:     vc.Proxy,
	}, nil
}

func mapStatusConfig(cfg *config.Config) status.Config {
	d := cfg.Debug
	return status.Config{Addr: d.Addr, Token: d.Token, Pprof: d.Pprof}
}

func progressInterval(cfg *config.Config) (time.Duration, error) {
	return parseDurationOrDefault("progress.interval", cfg.Progress.Interval, progress.DefaultInterval)
}

func chainDirs(cfg *config.Config) (tasks, archive, templates string) {
	c := cfg.Chain
	return orDefault(c.TasksDir, defaultTasksDir),
		orDefault(c.ArchiveDir, defaultArchiveDir),
		orDefault(c.TemplateDir, defaultTemplateDir)
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
