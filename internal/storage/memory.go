package storage

import (
	"context"
	"sync"
)

// Memory is a process-local Store.
type Memory struct {
	mu     sync.Mutex
	record TaskRecord
	esc    EscalationState
}

func NewMemory() *Memory {
	return &Memory{record: TaskRecord{Undone: []string{}, Done: []string{}}}
}

func (m *Memory) LoadTaskRecord(ctx context.Context) (TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return TaskRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.Clone(), nil
}

func (m *Memory) SaveTaskRecord(ctx context.Context, r TaskRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.record = r.Clone()
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadEscalationState(ctx context.Context) (EscalationState, error) {
	if err := ctx.Err(); err != nil {
		return EscalationState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.esc, nil
}

func (m *Memory) SaveEscalationState(ctx context.Context, s EscalationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.esc = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) ResetEscalationState(ctx context.Context) error {
	return m.SaveEscalationState(ctx, EscalationState{})
}

func (m *Memory) Close() error { return nil }
