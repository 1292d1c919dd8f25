package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var received []ClickEvent
	cancel := bus.Subscribe(Filter{}, func(e ClickEvent) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})
	defer cancel()

	bus.Publish(ClickEvent{EventID: "evt-1", LinkID: "link-1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "evt-1", received[0].EventID)
	mu.Unlock()
}

func TestFilterByOwnerAndLink(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var count int
	cancel := bus.Subscribe(Filter{OwnerID: "owner-a", LinkID: "link-1"}, func(e ClickEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer cancel()

	bus.Publish(ClickEvent{OwnerID: "owner-b", LinkID: "link-1"})
	bus.Publish(ClickEvent{OwnerID: "owner-a", LinkID: "link-2"})
	bus.Publish(ClickEvent{OwnerID: "owner-a", LinkID: "link-1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var count int
	cancel := bus.Subscribe(Filter{}, func(e ClickEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	cancel()
	bus.Publish(ClickEvent{EventID: "after-cancel"})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, count)
	mu.Unlock()
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	bus := New()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	cancel := bus.Subscribe(Filter{}, func(e ClickEvent) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	})
	defer cancel()
	defer close(block)

	for i := 0; i < 200; i++ {
		bus.Publish(ClickEvent{EventID: "flood"})
	}
	// No assertion beyond "this returns promptly" — Publish must never block
	// on a full subscriber buffer.
}
