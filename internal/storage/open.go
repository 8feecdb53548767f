package storage

import (
	"context"
	"errors"
	"strings"

	logx "crawlchain/pkg/logx"
)

// Store persists the task record and escalation state.
type Store interface {
	// LoadTaskRecord returns an empty record when nothing was saved yet.
	LoadTaskRecord(ctx context.Context) (TaskRecord, error)
	SaveTaskRecord(ctx context.Context, r TaskRecord) error

	// LoadEscalationState returns the zero state when nothing was saved yet.
	LoadEscalationState(ctx context.Context) (EscalationState, error)
	SaveEscalationState(ctx context.Context, s EscalationState) error
	ResetEscalationState(ctx context.Context) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
