package feed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/notesync/internal/models"
	"go.uber.org/zap/zaptest"
)

const other = "b2c7a1d0-8f3e-4a55-9e0c-1d2e3f405162"

func TestHubFansOutPerOwner(t *testing.T) {
	hub := NewHub(4, zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := hub.Open(ctx, owner)
	require.NoError(t, err)
	second, err := hub.Open(ctx, owner)
	require.NoError(t, err)
	theirs, err := hub.Open(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 2, hub.Subscribers(owner))

	ev := Inserted(models.Note{ID: 1, OwnerID: owner})
	hub.Publish(owner, ev)

	assert.Equal(t, ev, <-first.Events())
	assert.Equal(t, ev, <-second.Events())
	select {
	case got := <-theirs.Events():
		t.Fatalf("unexpected event for other owner: %+v", got)
	default:
	}
}

func TestHubDisconnectsSlowSubscriber(t *testing.T) {
	hub := NewHub(1, zaptest.NewLogger(t))
	stream, err := hub.Open(context.Background(), owner)
	require.NoError(t, err)

	hub.Publish(owner, Inserted(models.Note{ID: 1, OwnerID: owner}))
	hub.Publish(owner, Inserted(models.Note{ID: 2, OwnerID: owner}))

	ev, ok := <-stream.Events()
	require.True(t, ok)
	assert.Equal(t, int64(1), ev.NoteID())
	_, ok = <-stream.Events()
	assert.False(t, ok, "stream should be closed after overflow")
	assert.Equal(t, 0, hub.Subscribers(owner))
}

func TestHubStreamCloseIsIdempotent(t *testing.T) {
	hub := NewHub(0, zaptest.NewLogger(t))
	stream, err := hub.Open(context.Background(), owner)
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.Equal(t, 0, hub.Subscribers(owner))

	// publishing to an owner without streams is a no-op
	hub.Publish(owner, Inserted(models.Note{ID: 1, OwnerID: owner}))
}

func TestHubOpenHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHub(1, zaptest.NewLogger(t)).Open(ctx, owner)
	assert.ErrorIs(t, err, context.Canceled)
}
