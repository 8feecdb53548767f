package escalator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawlchain/internal/notifier"
	"crawlchain/internal/storage"
	logx "crawlchain/pkg/logx"
)

type sent struct {
	ch    notifier.Channel
	title string
	body  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, ch notifier.Channel, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{ch, title, body})
	return nil
}

type failingState struct{ storage.Store }

func (failingState) SaveEscalationState(context.Context, storage.EscalationState) error {
	return errors.New("disk full")
}

func (failingState) LoadEscalationState(context.Context) (storage.EscalationState, error) {
	return storage.EscalationState{}, nil
}

type unreadableState struct{ storage.Store }

func (unreadableState) LoadEscalationState(context.Context) (storage.EscalationState, error) {
	return storage.EscalationState{}, errors.New("unexpected end of JSON input")
}

func (unreadableState) SaveEscalationState(context.Context, storage.EscalationState) error {
	return nil
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 6, 3, hour, minute, 0, 0, time.UTC)
}

func newTestEscalator(n Notifier, st StateStore, clock *time.Time) *Escalator {
	return New(Config{Location: time.UTC}, n, st, logx.Nop(), WithClock(func() time.Time { return *clock }))
}

func TestDecide(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		hour int
		want Decision
	}{
		{0, Quiet}, {3, Quiet}, {8, Quiet},
		{9, Popup}, {10, Popup}, {17, Popup},
		{18, Email}, {20, Email}, {23, Email},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Decide(tc.hour, p), "hour %d", tc.hour)
	}
}

func TestDaytimeGoesToPopup(t *testing.T) {
	n := &fakeNotifier{}
	clock := at(10, 0)
	e := newTestEscalator(n, storage.NewMemory(), &clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Escalate(context.Background(), "shop", []string{"a", "b"}))
	}
	require.Len(t, n.sent, 3)
	assert.Equal(t, notifier.Popup, n.sent[0].ch)
	assert.Equal(t, "Task error alert - shop", n.sent[0].title)
	assert.Equal(t, "a\n\nb", n.sent[0].body)
}

func TestEveningEmailIsThrottled(t *testing.T) {
	n := &fakeNotifier{}
	st := storage.NewMemory()
	clock := at(20, 0)
	e := newTestEscalator(n, st, &clock)
	ctx := context.Background()

	require.NoError(t, e.Escalate(ctx, "shop", []string{"m1"}))
	require.Len(t, n.sent, 1)
	assert.Equal(t, notifier.Email, n.sent[0].ch)

	clock = at(20, 10)
	require.NoError(t, e.Escalate(ctx, "shop", []string{"m2"}))
	require.Len(t, n.sent, 1, "second email within 15 minutes must be suppressed")

	clock = at(20, 16)
	require.NoError(t, e.Escalate(ctx, "shop", []string{"m3"}))
	require.Len(t, n.sent, 2)

	saved, err := st.LoadEscalationState(ctx)
	require.NoError(t, err)
	assert.True(t, saved.LastEmailSentAt.Equal(at(20, 16)))
}

func TestThrottleSurvivesRestart(t *testing.T) {
	st := storage.NewMemory()
	require.NoError(t, st.SaveEscalationState(context.Background(), storage.EscalationState{LastEmailSentAt: at(19, 55)}))

	n := &fakeNotifier{}
	clock := at(20, 0)
	e := newTestEscalator(n, st, &clock)
	require.NoError(t, e.Escalate(context.Background(), "shop", []string{"m"}))
	assert.Empty(t, n.sent)
}

func TestQuietHoursSendNothing(t *testing.T) {
	n := &fakeNotifier{}
	st := storage.NewMemory()
	clock := at(3, 0)
	e := newTestEscalator(n, st, &clock)

	require.NoError(t, e.Escalate(context.Background(), "shop", []string{"m"}))
	assert.Empty(t, n.sent)
	saved, _ := st.LoadEscalationState(context.Background())
	assert.True(t, saved.LastEmailSentAt.IsZero())
}

func TestFailedEmailDoesNotUpdateState(t *testing.T) {
	n := &fakeNotifier{err: errors.New("smtp down")}
	st := storage.NewMemory()
	clock := at(21, 0)
	e := newTestEscalator(n, st, &clock)

	require.Error(t, e.Escalate(context.Background(), "shop", []string{"m"}))
	saved, _ := st.LoadEscalationState(context.Background())
	assert.True(t, saved.LastEmailSentAt.IsZero())

	// The next attempt is not throttled.
	n.err = nil
	clock = at(21, 1)
	require.NoError(t, e.Escalate(context.Background(), "shop", []string{"m"}))
	assert.Len(t, n.sent, 1)
}

func TestPersistFailureStillThrottlesInProcess(t *testing.T) {
	n := &fakeNotifier{}
	clock := at(21, 0)
	e := newTestEscalator(n, failingState{}, &clock)

	err := e.Escalate(context.Background(), "shop", []string{"m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.Len(t, n.sent, 1)

	clock = at(21, 5)
	require.NoError(t, e.Escalate(context.Background(), "shop", []string{"m"}))
	assert.Len(t, n.sent, 1)
}

func TestTimezoneDecidesHour(t *testing.T) {
	n := &fakeNotifier{}
	tokyo := time.FixedZone("JST", 9*3600)
	clock := time.Date(2024, 6, 3, 1, 0, 0, 0, time.UTC) // 10:00 in Tokyo
	e := New(Config{Location: tokyo}, n, nil, logx.Nop(), WithClock(func() time.Time { return clock }))
	require.NoError(t, e.Escalate(context.Background(), "shop", []string{"m"}))
	require.Len(t, n.sent, 1)
	assert.Equal(t, notifier.Popup, n.sent[0].ch)
}

func TestPopupBody(t *testing.T) {
	msgs := []string{"1", "2", "3", "4", "5", "6", "7"}
	assert.Equal(t, "1\n\n2\n\n3\n\n4\n\n5", PopupBody(msgs, 5, 200))

	long := []string{strings.Repeat("界", 150), strings.Repeat("x", 150)}
	body := PopupBody(long, 5, 200)
	assert.Equal(t, 200, len([]rune(body)))
	assert.True(t, strings.HasPrefix(body, strings.Repeat("界", 150)+"\n\n"))
}

func TestCorruptStateFileDoesNotBlockEmail(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Driver: "file", Dir: dir}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, os.WriteFile(filepath.Join(dir, "last_email_reminder.json"), []byte("{not json"), 0o644))

	n := &fakeNotifier{}
	clock := at(20, 0)
	e := newTestEscalator(n, st, &clock)
	ctx := context.Background()

	require.NoError(t, e.Escalate(ctx, "shop", []string{"m1"}))
	require.Len(t, n.sent, 1)
	assert.Equal(t, notifier.Email, n.sent[0].ch)

	// A successful send rewrites the state file.
	saved, err := st.LoadEscalationState(ctx)
	require.NoError(t, err)
	assert.True(t, saved.LastEmailSentAt.Equal(at(20, 0)))

	clock = at(20, 30)
	require.NoError(t, e.Escalate(ctx, "shop", []string{"m2"}))
	clock = at(21, 0)
	require.NoError(t, e.Escalate(ctx, "shop", []string{"m3"}))
	assert.Len(t, n.sent, 3)
}

func TestUnreadableStateThrottlesInProcess(t *testing.T) {
	n := &fakeNotifier{}
	clock := at(20, 0)
	e := newTestEscalator(n, unreadableState{}, &clock)
	ctx := context.Background()

	require.NoError(t, e.Escalate(ctx, "shop", []string{"m1"}))
	require.Len(t, n.sent, 1)

	clock = at(20, 5)
	require.NoError(t, e.Escalate(ctx, "shop", []string{"m2"}))
	assert.Len(t, n.sent, 1)

	clock = at(20, 20)
	require.NoError(t, e.Escalate(ctx, "shop", []string{"m3"}))
	assert.Len(t, n.sent, 2)
}
