package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mountlink/mountlink/downloader"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	bus.Publish(downloader.Event{DownloadID: 1, Type: downloader.EventProgress, BytesDone: 3, BytesTotal: 10, Speed: 1})

	select {
	case e := <-ch:
		assert.Equal(t, int64(1), e.DownloadID)
		assert.Equal(t, downloader.EventProgress, e.Type)
		assert.Equal(t, int64(3), e.BytesDone)
	default:
		t.Fatal("expected buffered event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus()

	a := bus.Subscribe()
	b := bus.Subscribe()
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	bus.Publish(downloader.Event{DownloadID: 2, Type: downloader.EventComplete})

	require.Len(t, a, 1)
	require.Len(t, b, 1)
}

func TestEventBus_SlowClientDropped(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// Fill the client buffer; further publishes must not block.
	for i := 0; i < 32; i++ {
		bus.Publish(downloader.Event{DownloadID: int64(i), Type: downloader.EventProgress})
	}

	assert.Len(t, ch, 16)
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Publish after unsubscribe must not panic.
	bus.Publish(downloader.Event{DownloadID: 1})
}
