package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	b := New()
	assert.NotNil(t, b)

	metrics := b.GetMetrics()
	assert.Equal(t, 0, metrics.ActiveSubscriptions)
	assert.Equal(t, int64(0), metrics.EventsPublished)
	assert.Equal(t, int64(0), metrics.EventsDelivered)
	assert.Equal(t, int64(0), metrics.ListenerPanics)
}

func TestBus_Publish_OrderedFanOut(t *testing.T) {
	b := New()

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		b.Subscribe(ChannelCommandResult, ListenerFunc(func(Event) {
			order = append(order, i)
		}))
	}

	b.Publish(Event{Channel: ChannelCommandResult, Command: "get_resource", Data: "{}"})

	assert.Equal(t, []int{1, 2, 3}, order, "listeners must run in subscription order")

	metrics := b.GetMetrics()
	assert.Equal(t, int64(1), metrics.EventsPublished)
	assert.Equal(t, int64(3), metrics.EventsDelivered)
}

func TestBus_Publish_OtherChannelNotDelivered(t *testing.T) {
	b := New()

	delivered := 0
	b.Subscribe(ChannelLogs, ListenerFunc(func(Event) { delivered++ }))

	b.Publish(Event{Channel: ChannelCommandResult, Data: "{}"})
	assert.Equal(t, 0, delivered)
}

func TestBus_Publish_ListenerPanicIsolation(t *testing.T) {
	b := New()

	var got []string
	b.Subscribe(ChannelCommandResult, ListenerFunc(func(Event) {
		got = append(got, "first")
		panic("listener bug")
	}))
	b.Subscribe(ChannelCommandResult, ListenerFunc(func(Event) {
		got = append(got, "second")
	}))

	assert.NotPanics(t, func() {
		b.Publish(Event{Channel: ChannelCommandResult, Data: "{}"})
	})

	assert.Equal(t, []string{"first", "second"}, got, "panic in one listener must not block the rest")
	assert.Equal(t, int64(1), b.GetMetrics().ListenerPanics)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()

	delivered := 0
	token := b.Subscribe(ChannelCommandResult, ListenerFunc(func(Event) { delivered++ }))
	assert.Equal(t, 1, b.GetMetrics().ActiveSubscriptions)

	b.Unsubscribe(token)
	b.Publish(Event{Channel: ChannelCommandResult, Data: "{}"})

	assert.Equal(t, 0, delivered, "no delivery after Unsubscribe returns")
	assert.Equal(t, 0, b.GetMetrics().ActiveSubscriptions)
}

func TestBus_Unsubscribe_Idempotent(t *testing.T) {
	b := New()

	token := b.Subscribe(ChannelCommandResult, ListenerFunc(func(Event) {}))
	b.Unsubscribe(token)

	assert.NotPanics(t, func() {
		b.Unsubscribe(token)
		b.Unsubscribe(Token("never-issued"))
	})
	assert.Equal(t, 0, b.GetMetrics().ActiveSubscriptions)
}

func TestBus_LateSubscriberMissesEvent(t *testing.T) {
	b := New()

	b.Publish(Event{Channel: ChannelCommandResult, Data: "{}"})

	delivered := 0
	b.Subscribe(ChannelCommandResult, ListenerFunc(func(Event) { delivered++ }))
	assert.Equal(t, 0, delivered, "events are not retained for later subscribers")
}

func TestBus_Close(t *testing.T) {
	b := New()

	delivered := 0
	b.Subscribe(ChannelCommandResult, ListenerFunc(func(Event) { delivered++ }))
	b.Close()

	b.Publish(Event{Channel: ChannelCommandResult, Data: "{}"})
	assert.Equal(t, 0, delivered)

	token := b.Subscribe(ChannelCommandResult, ListenerFunc(func(Event) {}))
	assert.Empty(t, token, "closed bus rejects new subscriptions")
}

func TestBus_PublishSignal(t *testing.T) {
	b := New()

	var got []Event
	b.Subscribe(ChannelLifecycle, ListenerFunc(func(ev Event) {
		got = append(got, ev)
	}))

	b.PublishSignal(SignalClusterChanged)

	if assert.Len(t, got, 1) {
		assert.Equal(t, ChannelLifecycle, got[0].Channel)
		assert.Equal(t, string(SignalClusterChanged), got[0].Data)
		assert.Empty(t, got[0].Command)
		assert.False(t, got[0].Timestamp.IsZero())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := New()

	var mu sync.Mutex
	count := 0
	b.Subscribe(ChannelMetrics, ListenerFunc(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b.Publish(Event{Channel: ChannelMetrics, Data: "{}"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, count)
	assert.Equal(t, int64(200), b.GetMetrics().EventsPublished)
}
