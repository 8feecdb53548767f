package chain

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawlchain/internal/eventbus"
	"crawlchain/internal/storage"
	logx "crawlchain/pkg/logx"
)

type mapResolver map[string]bool

func (m mapResolver) EntryPoint(name string) (string, bool) {
	if m[name] {
		return "/tasks/" + name + "/task.yaml", true
	}
	return "", false
}

type fakeLauncher struct {
	mu       sync.Mutex
	launched []string
	err      error
}

func (f *fakeLauncher) Launch(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.launched = append(f.launched, name)
	return nil
}

func (f *fakeLauncher) Launched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.launched...)
}

type failingStore struct {
	*storage.Memory
	failSave bool
	failLoad bool
}

func (s *failingStore) LoadTaskRecord(ctx context.Context) (storage.TaskRecord, error) {
	if s.failLoad {
		return storage.TaskRecord{}, errors.New("disk gone")
	}
	return s.Memory.LoadTaskRecord(ctx)
}

func (s *failingStore) SaveTaskRecord(ctx context.Context, r storage.TaskRecord) error {
	if s.failSave {
		return errors.New("read-only filesystem")
	}
	return s.Memory.SaveTaskRecord(ctx, r)
}

func seeded(t *testing.T, undone ...string) *storage.Memory {
	t.Helper()
	m := storage.NewMemory()
	require.NoError(t, m.SaveTaskRecord(context.Background(), storage.TaskRecord{Undone: undone, Done: []string{}}))
	return m
}

func TestCompleteAndAdvanceLaunchesNext(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, "a", "b", "c")
	l := &fakeLauncher{}
	c := New(store, mapResolver{"a": true, "b": true, "c": true}, l, logx.Nop())

	adv, err := c.CompleteAndAdvance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, Advance{Completed: "a", Launched: "b"}, adv)
	assert.Equal(t, []string{"b"}, l.Launched())

	rec, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, rec.Undone)
	assert.Equal(t, []string{"a"}, rec.Done)
}

func TestCompleteAndAdvanceSkipsMissingEntryPoint(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, "a", "b", "c")
	l := &fakeLauncher{}
	c := New(store, mapResolver{"a": true, "c": true}, l, logx.Nop())

	adv, err := c.CompleteAndAdvance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, adv.Skipped)
	assert.Equal(t, "c", adv.Launched)
	assert.Equal(t, []string{"c"}, l.Launched())

	rec, err := store.LoadTaskRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, rec.Undone)
	assert.Equal(t, []string{"a", "b"}, rec.Done)
}

func TestCompleteAndAdvanceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, "a", "b")
	l := &fakeLauncher{}
	c := New(store, mapResolver{"a": true, "b": true}, l, logx.Nop())

	_, err := c.CompleteAndAdvance(ctx, "a")
	require.NoError(t, err)
	adv, err := c.CompleteAndAdvance(ctx, "a")
	require.NoError(t, err)
	assert.True(t, adv.Noop)
	assert.Equal(t, []string{"b"}, l.Launched())

	rec, err := store.LoadTaskRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, rec.Undone)
	assert.Equal(t, []string{"a"}, rec.Done)
}

func TestCompleteAndAdvanceFinishes(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, "a", "ghost")
	l := &fakeLauncher{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.ChainAdvanced)
	defer unsub()
	c := New(store, mapResolver{"a": true}, l, logx.Nop(), WithBus(bus))

	adv, err := c.CompleteAndAdvance(ctx, "a")
	require.NoError(t, err)
	assert.True(t, adv.Finished)
	assert.Equal(t, []string{"ghost"}, adv.Skipped)
	assert.Empty(t, l.Launched())

	e := <-events
	assert.Equal(t, adv, e.Data)

	rec, err := store.LoadTaskRecord(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.Undone)
	assert.Equal(t, []string{"a", "ghost"}, rec.Done)
}

func TestCompleteAndAdvanceMarksDoneBeforeLaunch(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, "a", "b")
	l := &fakeLauncher{err: errors.New("exec format error")}
	c := New(store, mapResolver{"a": true, "b": true}, l, logx.Nop())

	_, err := c.CompleteAndAdvance(ctx, "a")
	require.ErrorIs(t, err, ErrLaunch)
	require.NotErrorIs(t, err, ErrPersist)

	rec, err := store.LoadTaskRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, rec.Undone)
	assert.Equal(t, []string{"a"}, rec.Done)
}

func TestPersistFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Memory: seeded(t, "a", "b"), failSave: true}
	l := &fakeLauncher{}
	c := New(store, mapResolver{"a": true, "b": true}, l, logx.Nop())

	_, err := c.CompleteAndAdvance(ctx, "a")
	require.ErrorIs(t, err, ErrPersist)
	assert.Empty(t, l.Launched())

	store.failSave = false
	store.failLoad = true
	_, err = c.CompleteAndAdvance(ctx, "a")
	require.ErrorIs(t, err, ErrPersist)
	_, err = c.Status(ctx)
	require.ErrorIs(t, err, ErrPersist)
}

func TestResumeLaunchesHead(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, "x", "y")
	l := &fakeLauncher{}
	c := New(store, mapResolver{"y": true}, l, logx.Nop())

	adv, err := c.Resume(ctx)
	require.NoError(t, err)
	assert.Empty(t, adv.Completed)
	assert.Equal(t, []string{"x"}, adv.Skipped)
	assert.Equal(t, "y", adv.Launched)
}

func TestEnqueueSkipsKnownNames(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, "a")
	c := New(store, mapResolver{}, &fakeLauncher{}, logx.Nop())

	added, err := c.Enqueue(ctx, "b", "a", " ", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, added)

	added, err = c.Enqueue(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, added)

	rec, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, rec.Undone)
}

func TestDirResolver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "250101-shop"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "250101-shop", "task.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "250102-empty"), 0o755))

	r := NewDirResolver(dir, "")
	p, ok := r.EntryPoint("250101-shop")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "250101-shop", "task.json"), p)

	_, ok = r.EntryPoint("250102-empty")
	assert.False(t, ok)
	_, ok = r.EntryPoint("../250101-shop")
	assert.False(t, ok)

	_, ok = NewDirResolver(dir, "task.yaml").EntryPoint("250101-shop")
	assert.False(t, ok)

	folders, err := r.List()
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.True(t, folders[0].Runnable())
	assert.False(t, folders[1].Runnable())

	folders, err = NewDirResolver(filepath.Join(dir, "missing"), "").List()
	require.NoError(t, err)
	assert.Empty(t, folders)
}

func TestExecLauncherArgv(t *testing.T) {
	l := NewExecLauncher(nil, "/etc/crawlchain.yaml", logx.Nop())
	l.executable = func() (string, error) { return "/usr/bin/crawlchain", nil }

	argv, err := l.argv("250101-shop", "/tasks/250101-shop/task.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/crawlchain", "-config", "/etc/crawlchain.yaml", "run", "250101-shop"}, argv)

	l.Command = []string{"systemd-run", "--user", "crawlchain", "run", "{task}", "--entry={entry}"}
	argv, err = l.argv("t", "/e")
	require.NoError(t, err)
	assert.Equal(t, []string{"systemd-run", "--user", "crawlchain", "run", "t", "--entry=/e"}, argv)

	l.Command = []string{"{config}"}
	l.ConfigPath = ""
	_, err = l.argv("t", "/e")
	require.Error(t, err)
}

func TestExecLauncherStartsDetached(t *testing.T) {
	l := NewExecLauncher([]string{"echo", "{task}"}, "", logx.Nop())
	var got *exec.Cmd
	l.start = func(cmd *exec.Cmd) error {
		got = cmd
		return nil
	}
	require.NoError(t, l.Launch(context.Background(), "shop", "/e"))
	require.NotNil(t, got)
	assert.Equal(t, []string{"echo", "shop"}, got.Args)
	assert.Equal(t, os.Stdout, got.Stdout)
	assert.Equal(t, os.Stderr, got.Stderr)
}

func TestScaffoldReplacesPlaceholders(t *testing.T) {
	tmpl := t.TempDir()
	tasks := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpl, "task.yaml"),
		[]byte("name: time_task_id\nlabel: tasks_id\nsources: [sitemap.xml]\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(tmpl, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpl, "data", "blob.bin"), []byte("tasks_id"), 0o644))

	now := time.Date(2025, 8, 4, 12, 0, 0, 0, time.UTC)
	name, err := Scaffold(tmpl, tasks, "rouje.com", now)
	require.NoError(t, err)
	assert.Equal(t, "250804-rouje.com", name)

	b, err := os.ReadFile(filepath.Join(tasks, name, "task.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "name: 250804-rouje.com\nlabel: rouje.com\nsources: [sitemap.xml]\n", string(b))

	b, err = os.ReadFile(filepath.Join(tasks, name, "data", "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, "tasks_id", string(b))

	_, err = Scaffold(tmpl, tasks, "rouje.com", now)
	require.Error(t, err)
	_, err = Scaffold(tmpl, tasks, "a/b", now)
	require.Error(t, err)
}

func TestArchiveMovesFolders(t *testing.T) {
	tasks := t.TempDir()
	archive := filepath.Join(t.TempDir(), "archive")
	for _, n := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(tasks, n), 0o755))
	}

	moved, err := Archive(tasks, archive, []string{"a", "missing", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, moved)
	assert.DirExists(t, filepath.Join(archive, "a"))
	assert.NoDirExists(t, filepath.Join(tasks, "a"))

	require.NoError(t, os.MkdirAll(filepath.Join(tasks, "a"), 0o755))
	moved, err = Archive(tasks, archive, []string{"a"})
	require.Error(t, err)
	assert.Empty(t, moved)
}
