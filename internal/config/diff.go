package config

import (
	"reflect"
	"sort"

	logx "crawlchain/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe log
// fields describing them. Secrets (passwords, tokens) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 8)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.journal", newCfg.Logging.Journal.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Escalation, newCfg.Escalation) {
		changed = append(changed, "escalation")
		attrs = append(attrs,
			logx.String("escalation.email_interval", newCfg.Escalation.EmailInterval),
			logx.String("escalation.timezone", newCfg.Escalation.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier.popup", newCfg.Notifier.Popup.Driver),
			logx.String("notifier.email", newCfg.Notifier.Email.Driver),
			logx.Bool("notifier.email.password_set", newCfg.Notifier.Email.Password != ""),
		)
	}
	for name, pair := range map[string][2]any{
		"runner":   {oldCfg.Runner, newCfg.Runner},
		"progress": {oldCfg.Progress, newCfg.Progress},
		"alerts":   {oldCfg.Alerts, newCfg.Alerts},
		"storage":  {oldCfg.Storage, newCfg.Storage},
		"chain":    {oldCfg.Chain, newCfg.Chain},
		"visit":    {oldCfg.Visit, newCfg.Visit},
		"debug":    {oldCfg.Debug, newCfg.Debug},
	} {
		if !reflect.DeepEqual(pair[0], pair[1]) {
			changed = append(changed, name)
		}
	}

	sort.Strings(changed)
	return changed, attrs
}

// LiveSections lists the sections applied without a restart.
var LiveSections = map[string]bool{"logging": true, "escalation": true, "notifier": true}
