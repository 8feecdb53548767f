package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "crawlchain/pkg/logx"
)

const (
	taskRecordFile = "tasks.json"
	escalationFile = "last_email_reminder.json"
)

// fileStore keeps each piece of state in its own JSON file under dir:
//   - tasks.json                 {"undone": [...], "done": [...]}
//   - last_email_reminder.json   {"last_email_sent_at": "<RFC3339>"}
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "./state"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	return &fileStore{log: log.With(logx.String("comp", "storage")), dir: dir}, nil
}

func (s *fileStore) path(name string) string { return filepath.Join(s.dir, name) }

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) LoadTaskRecord(ctx context.Context) (TaskRecord, error) {
	var r TaskRecord
	found, err := s.read(ctx, taskRecordFile, &r)
	if err != nil || !found {
		return TaskRecord{Undone: []string{}, Done: []string{}}, err
	}
	if r.Undone == nil {
		r.Undone = []string{}
	}
	if r.Done == nil {
		r.Done = []string{}
	}
	return r, nil
}

func (s *fileStore) SaveTaskRecord(ctx context.Context, r TaskRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.write(ctx, taskRecordFile, r.Clone())
}

func (s *fileStore) LoadEscalationState(ctx context.Context) (EscalationState, error) {
	var st EscalationState
	_, err := s.read(ctx, escalationFile, &st)
	return st, err
}

func (s *fileStore) SaveEscalationState(ctx context.Context, st EscalationState) error {
	return s.write(ctx, escalationFile, st)
}

func (s *fileStore) ResetEscalationState(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := os.Remove(s.path(escalationFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", escalationFile, err)
	}
	return nil
}

func (s *fileStore) read(ctx context.Context, name string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStore) write(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := writeAtomic(s.path(name), data); err != nil {
		return err
	}
	s.log.Trace("state saved", logx.String("file", name), logx.Int("bytes", len(data)))
	return nil
}

// writeAtomic replaces path with data via a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".crawlchain-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}
