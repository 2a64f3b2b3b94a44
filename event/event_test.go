package event

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishConsume(t *testing.T) {
	p := NewPublisher[string](4)
	p.Publish("scheduled")
	p.Publish("finished")

	e, err := p.Consume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "scheduled", e.Data)
	assert.False(t, e.CreatedAt.IsZero())

	e, err = p.Consume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "finished", e.Data)
}

func TestPublishNeverBlocks(t *testing.T) {
	p := NewPublisher[int](2)
	for i := 0; i < 100; i++ {
		p.Publish(i)
	}
	// Only the buffered events survive; the rest were dropped.
	e, err := p.Consume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, e.Data)
}

func TestConsumeHonoursContext(t *testing.T) {
	p := NewPublisher[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenerDeliversEvents(t *testing.T) {
	p := NewPublisher[int](16)
	var sum atomic.Int64
	l := NewListener(p, func(e *Event[int]) { sum.Add(int64(e.Data)) })
	l.Start()
	defer l.Stop()

	for i := 1; i <= 4; i++ {
		p.Publish(i)
	}
	assert.Eventually(t, func() bool { return sum.Load() == 10 }, time.Second, time.Millisecond)
}
