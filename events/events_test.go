package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingSubscriber struct {
	mtx    sync.Mutex
	events []*Event
	global map[string]interface{}
	wg     *sync.WaitGroup
}

func (sub *capturingSubscriber) ConsumeEvent(ctx context.Context, event *Event, globalProperties map[string]interface{}) {
	sub.mtx.Lock()
	defer sub.mtx.Unlock()
	sub.events = append(sub.events, event)
	sub.global = globalProperties
	if sub.wg != nil {
		sub.wg.Done()
	}
}

func (sub *capturingSubscriber) count() int {
	sub.mtx.Lock()
	defer sub.mtx.Unlock()
	return len(sub.events)
}

func TestPublishSyncDeliversToAllSubscribers(t *testing.T) {
	publisher := NewEventPublisher()
	publisher.SetGlobalProperty("version", "v0.1.0")

	first := &capturingSubscriber{}
	second := &capturingSubscriber{}
	publisher.RegisterSubscriber(first)
	publisher.RegisterSubscriber(second)

	publisher.PublishSync(&Event{Event: "order_published", Properties: map[string]interface{}{"order_id": 1}})

	require.Equal(t, 1, first.count())
	require.Equal(t, 1, second.count())
	assert.Equal(t, "order_published", first.events[0].Event)
	assert.Equal(t, "v0.1.0", first.global["version"])
}

func TestRemoveSubscriberStopsDelivery(t *testing.T) {
	publisher := NewEventPublisher()

	removed := &capturingSubscriber{}
	kept := &capturingSubscriber{}
	publisher.RegisterSubscriber(removed)
	publisher.RegisterSubscriber(kept)

	publisher.PublishSync(&Event{Event: "order_created"})
	publisher.RemoveSubscriber(removed)
	publisher.PublishSync(&Event{Event: "order_expired"})

	assert.Equal(t, 1, removed.count())
	assert.Equal(t, 2, kept.count())
}

func TestPublishIsAsynchronous(t *testing.T) {
	publisher := NewEventPublisher()

	var wg sync.WaitGroup
	wg.Add(1)
	subscriber := &capturingSubscriber{wg: &wg}
	publisher.RegisterSubscriber(subscriber)

	publisher.Publish(&Event{Event: "order_taken"})
	wg.Wait()

	assert.Equal(t, 1, subscriber.count())
	assert.Equal(t, "order_taken", subscriber.events[0].Event)
}
