package logx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var errNoJournal = errors.New("systemd journal socket not available")

// journalWriter forwards zerolog JSON lines to journald, keeping structured
// fields as upper-cased journal variables.
type journalWriter struct {
	identifier string
	minLevel   zerolog.Level
	limiter    *rate.Limiter
	send       func(msg string, pri journal.Priority, vars map[string]string) error
}

func newJournalWriter(cfg JournalConfig) (*journalWriter, error) {
	if !journal.Enabled() {
		return nil, errNoJournal
	}
	return newJournalWriterWith(cfg, journal.Send), nil
}

func newJournalWriterWith(cfg JournalConfig, send func(string, journal.Priority, map[string]string) error) *journalWriter {
	id := strings.TrimSpace(cfg.Identifier)
	if id == "" {
		id = "crawlchain"
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &journalWriter{
		identifier: id,
		minLevel:   ParseLevel(cfg.MinLevel, zerolog.WarnLevel),
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		send:       send,
	}
}

func (w *journalWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *journalWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.minLevel || !w.limiter.Allow() {
		return len(p), nil
	}
	msg, vars := journalFields(p)
	vars["SYSLOG_IDENTIFIER"] = w.identifier
	// Journal delivery never fails the log call.
	_ = w.send(msg, journalPriority(level), vars)
	return len(p), nil
}

func journalFields(p []byte) (string, map[string]string) {
	vars := map[string]string{}
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return strings.TrimSpace(string(p)), vars
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	for k, v := range m {
		switch k {
		case zerolog.MessageFieldName, zerolog.LevelFieldName, zerolog.TimestampFieldName:
			continue
		}
		vars[journalKey(k)] = fmt.Sprint(v)
	}
	return msg, vars
}

// journalKey converts a field name to a valid journal variable name.
func journalKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), "_")
	if out == "" {
		return "FIELD"
	}
	return out
}

func journalPriority(level zerolog.Level) journal.Priority {
	switch {
	case level >= zerolog.ErrorLevel:
		return journal.PriErr
	case level == zerolog.WarnLevel:
		return journal.PriWarning
	case level == zerolog.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
