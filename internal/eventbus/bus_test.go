package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	failed, unsubFailed := b.Subscribe(4, JobFailed)
	defer unsubFailed()

	b.Publish(Event{Type: JobSucceeded, Data: "a"})
	b.Publish(Event{Type: JobFailed, Data: "b"})

	require.Len(t, all, 2)
	require.Len(t, failed, 1)
	e := <-failed
	assert.Equal(t, "b", e.Data)
	assert.False(t, e.Time.IsZero())
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: JobFailed})
	b.Publish(Event{Type: JobFailed})
	assert.Len(t, ch, 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: JobFailed})
}
