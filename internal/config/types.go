package config

// Config is the on-disk configuration (crawlchain.yaml by default).
//
// All durations are Go duration strings ("500ms", "10s", "3m").
// Omitted fields fall back to the defaults of the component that consumes them.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Runner     RunnerConfig     `json:"runner"`
	Progress   ProgressConfig   `json:"progress"`
	Alerts     AlertsConfig     `json:"alerts"`
	Escalation EscalationConfig `json:"escalation"`
	Notifier   NotifierConfig   `json:"notifier"`
	Storage    StorageConfig    `json:"storage"`
	Chain      ChainConfig      `json:"chain"`
	Visit      VisitConfig      `json:"visit"`
	Debug      DebugConfig      `json:"debug"`
}

type LoggingConfig struct {
	Level   string         `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Journal LoggingJournal `json:"journal"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingJournal struct {
	Enabled    bool   `json:"enabled"`
	Identifier string `json:"identifier,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"omitempty,min=1"`
}

// RunnerConfig controls the job runner.
//
// Defaults:
//   - min_concurrency: 2
//   - max_concurrency: 5
//   - max_retries: 3 (an explicit 0 disables retries)
//   - max_jobs_per_run: 0 (unlimited)
//   - rate_per_sec: 0 (no dispatch pacing)
//   - autoscale_every: "2s"
type RunnerConfig struct {
	MinConcurrency int     `json:"min_concurrency,omitempty" validate:"omitempty,min=1"`
	MaxConcurrency int     `json:"max_concurrency,omitempty" validate:"omitempty,min=1"`
	MaxRetries     *int    `json:"max_retries,omitempty" validate:"omitempty,min=0"`
	MaxJobsPerRun  int     `json:"max_jobs_per_run,omitempty" validate:"omitempty,min=0"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty" validate:"omitempty,min=0"`
	AutoscaleEvery string  `json:"autoscale_every,omitempty"`
}

type ProgressConfig struct {
	// Interval between progress snapshots in the log. Default "10s".
	Interval string `json:"interval,omitempty"`
}

// AlertsConfig controls the sliding failure window.
type AlertsConfig struct {
	Threshold int    `json:"threshold,omitempty" validate:"omitempty,min=1"`
	Window    string `json:"window,omitempty"`
	BatchSize int    `json:"batch_size,omitempty" validate:"omitempty,min=1"`
}

// EscalationConfig decides how and when a human hears about a failure burst.
//
// Hours are local wall-clock hours. Delivery happens in [allow_from_hour, allow_until_hour),
// by popup before daytime_until_hour and by email afterwards.
type EscalationConfig struct {
	AllowFromHour    *int   `json:"allow_from_hour,omitempty" validate:"omitempty,min=0,max=23"`
	AllowUntilHour   *int   `json:"allow_until_hour,omitempty" validate:"omitempty,min=1,max=24"`
	DaytimeUntilHour *int   `json:"daytime_until_hour,omitempty" validate:"omitempty,min=0,max=24"`
	EmailInterval    string `json:"email_interval,omitempty"`
	PopupMaxMessages int    `json:"popup_max_messages,omitempty" validate:"omitempty,min=1"`
	PopupMaxChars    int    `json:"popup_max_chars,omitempty" validate:"omitempty,min=1"`
	Timezone         string `json:"timezone,omitempty"`
}

type NotifierConfig struct {
	Timeout string      `json:"timeout,omitempty"`
	Popup   PopupConfig `json:"popup"`
	Email   EmailConfig `json:"email"`
}

// PopupConfig selects the interactive channel driver: dbus (desktop
// notification), telegram (chat message) or log.
type PopupConfig struct {
	Driver   string         `json:"driver,omitempty" validate:"omitempty,oneof=dbus telegram log"`
	AppName  string         `json:"app_name,omitempty"`
	Telegram TelegramTarget `json:"telegram"`
}

type TelegramTarget struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
}

type EmailConfig struct {
	Driver   string   `json:"driver,omitempty" validate:"omitempty,oneof=smtp log"`
	Host     string   `json:"host,omitempty"`
	Port     int      `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from,omitempty" validate:"omitempty,email"`
	To       []string `json:"to,omitempty" validate:"omitempty,dive,email"`
	// TLS is one of "starttls" (default), "tls" or "none".
	TLS string `json:"tls,omitempty" validate:"omitempty,oneof=starttls tls none"`
}

// StorageConfig locates the durable state files.
//
// Example:
//
//	storage: { driver: file, dir: ./state }
type StorageConfig struct {
	Driver string `json:"driver,omitempty" validate:"omitempty,oneof=file memory"`
	Dir    string `json:"dir,omitempty"`
}

// ChainConfig describes where task folders live and how the next task is started.
type ChainConfig struct {
	TasksDir    string `json:"tasks_dir,omitempty"`
	EntryFile   string `json:"entry_file,omitempty"`
	ArchiveDir  string `json:"archive_dir,omitempty"`
	TemplateDir string `json:"template_dir,omitempty"`
	// Command overrides the launch command. "{task}" and "{config}" are
	// substituted. Default: the current executable with "-config {config} run {task}".
	Command []string `json:"command,omitempty"`
}

// VisitConfig controls the page visitor used as the job function.
type VisitConfig struct {
	Driver    string `json:"driver,omitempty" validate:"omitempty,oneof=http browser"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Headless  *bool  `json:"headless,omitempty"`
	ExecPath  string `json:"exec_path,omitempty"`
	// Proxy is an http(s) or socks5 proxy URL used for every page fetch.
	Proxy string `json:"proxy,omitempty" validate:"omitempty,url"`
}

// DebugConfig enables the read-only status server. Empty Addr disables it.
type DebugConfig struct {
	Addr  string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token string `json:"token,omitempty"`
	Pprof bool   `json:"pprof,omitempty"`
}
