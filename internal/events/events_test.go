package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBus_DeliversPerProfile(t *testing.T) {
	t.Parallel()

	bus := NewLocalBus()
	var mu sync.Mutex
	var got []Event
	unsubscribe := bus.Subscribe("p1", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Event{ProfileID: "p1", Topic: TopicQuizLibraryUpdated}))
	require.NoError(t, bus.Publish(ctx, Event{ProfileID: "p2", Topic: TopicQuizLibraryUpdated}))

	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, bus.Subscribers("p1"))

	require.NoError(t, bus.Publish(ctx, Event{ProfileID: "p1", Topic: TopicQuizLibraryUpdated}))
	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()
}

func TestLocalBus_HandlerPanicDoesNotStopFanOut(t *testing.T) {
	t.Parallel()

	bus := NewLocalBus()
	delivered := 0
	bus.Subscribe("p1", func(Event) { panic("boom") })
	bus.Subscribe("p1", func(Event) { delivered++ })

	require.NoError(t, bus.Publish(context.Background(), Event{ProfileID: "p1", Topic: TopicStorage}))
	assert.Equal(t, 1, delivered)
}

func TestLocalBus_Closed(t *testing.T) {
	t.Parallel()

	bus := NewLocalBus()
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{ProfileID: "p1", Topic: TopicStorage}), ErrClosed)
}

func TestEventCodec(t *testing.T) {
	t.Parallel()

	ev := Event{ProfileID: "p1", Topic: TopicStorage, Key: "quiz_library", Origin: "tab-1"}
	raw, err := encodeEvent(ev)
	require.NoError(t, err)

	got, err := decodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = decodeEvent([]byte(`{"topic":"storage"}`))
	assert.Error(t, err)
	_, err = decodeEvent([]byte(`not json`))
	assert.Error(t, err)
}
