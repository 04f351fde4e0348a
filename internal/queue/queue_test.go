package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpkarvonen/villaged/internal/model"
)

func TestMemory_FIFO(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.RenderJob{Channel: "FEED", SourceEventID: "evt_1"}))
	require.NoError(t, q.Enqueue(ctx, model.RenderJob{Channel: "CHAT", SourceEventID: "evt_2"}))
	assert.Equal(t, 2, q.Len())

	env, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "evt_1", env.Job.SourceEventID)
	assert.NotEmpty(t, env.ID)

	env, ok, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "evt_2", env.Job.SourceEventID)
	assert.Equal(t, 0, q.Len())
}

func TestMemory_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	got := make(chan Envelope, 1)
	go func() {
		env, ok, err := q.Dequeue(ctx)
		if err == nil && ok {
			got <- env
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, model.RenderJob{Channel: "NEWS", SourceEventID: "evt_3"}))

	select {
	case env := <-got:
		assert.Equal(t, "evt_3", env.Job.SourceEventID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake")
	}
}

func TestMemory_CloseDrainsThenStops(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.RenderJob{Channel: "FEED", SourceEventID: "evt_4"}))
	q.Close()

	require.Error(t, q.Enqueue(ctx, model.RenderJob{Channel: "FEED"}))

	_, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_DequeueHonorsContext(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
