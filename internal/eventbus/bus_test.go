package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"wisefido-vitals/internal/eventbus"
	"wisefido-vitals/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingObserver struct {
	mu        sync.Mutex
	published int
	dropped   map[string]int
}

func (o *countingObserver) Published(events.Kind) {
	o.mu.Lock()
	o.published++
	o.mu.Unlock()
}

func (o *countingObserver) Dropped(queue string, _ events.Kind) {
	o.mu.Lock()
	if o.dropped == nil {
		o.dropped = map[string]int{}
	}
	o.dropped[queue]++
	o.mu.Unlock()
}

func update(spo2 float64) events.SensorUpdate {
	return events.NewSensorUpdate(events.SourceSerial, time.Now(), "ox", "pulse_ox", map[string]float64{"spo2": spo2}, "")
}

func drain(sub *eventbus.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestPublish_NeverBlocksAndKeepsOrder(t *testing.T) {
	obs := &countingObserver{}
	bus := eventbus.New(zap.NewNop(), eventbus.WithCapacity(5), eventbus.WithObserver(obs))
	defer bus.Shutdown()

	sub, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Publish(update(float64(i)), "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full queue")
	}

	got := drain(sub)
	require.Len(t, got, 5)
	for i, evt := range got {
		v, _ := evt.(events.SensorUpdate).Value("spo2")
		assert.Equal(t, float64(i), v)
	}

	published, dropped := bus.Stats()
	assert.Equal(t, uint64(50), published)
	// 45 for the subscriber, 45 for the undrained main queue
	assert.Equal(t, uint64(90), dropped)
	assert.Equal(t, 45, obs.dropped["global"])
	assert.Equal(t, 50, obs.published)
}

func TestPublish_Addressing(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	defer bus.Shutdown()
	ctx := context.Background()

	global, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	topic, err := bus.SubscribeTopic(ctx, "vitals.saved")
	require.NoError(t, err)
	kinds, err := bus.SubscribeKind(ctx, events.KindAlertTriggered, events.KindAlertResolved)
	require.NoError(t, err)

	bus.Publish(update(95), "")
	bus.Publish(events.NewVitalSignRecorded(events.SourceAPI, time.Now(), 7, "temperature", nil, true), "vitals.saved")
	bus.Publish(events.NewAlertResolved(time.Now(), "a1", "pulse_ox", "automatic"), "")

	assert.Len(t, drain(global), 3)

	topicEvents := drain(topic)
	require.Len(t, topicEvents, 1)
	assert.Equal(t, events.KindVitalSignRecorded, topicEvents[0].Kind())

	kindEvents := drain(kinds)
	require.Len(t, kindEvents, 1)
	assert.Equal(t, events.KindAlertResolved, kindEvents[0].Kind())

	assert.Len(t, bus.Main(), 3)
}

func TestSubscription_FullQueueDoesNotStarveOthers(t *testing.T) {
	bus := eventbus.New(zap.NewNop(), eventbus.WithCapacity(1))
	defer bus.Shutdown()
	ctx := context.Background()

	slow, err := bus.SubscribeKind(ctx, events.KindSensorUpdate)
	require.NoError(t, err)
	fast, err := bus.SubscribeKind(ctx, events.KindSensorUpdate)
	require.NoError(t, err)

	bus.Publish(update(1), "")
	assert.Len(t, drain(fast), 1)

	bus.Publish(update(2), "")
	got := drain(fast)
	require.Len(t, got, 1)
	v, _ := got[0].(events.SensorUpdate).Value("spo2")
	assert.Equal(t, 2.0, v)

	slowGot := drain(slow)
	require.Len(t, slowGot, 1)
	v, _ = slowGot[0].(events.SensorUpdate).Value("spo2")
	assert.Equal(t, 1.0, v)
}

func TestSubscription_ContextCancelDeregisters(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.SubscribeTopic(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, bus.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-sub.C()
	assert.False(t, ok)

	// publishing after deregistration must not panic on the closed queue
	bus.Publish(update(90), "t")
}

func TestSubscription_NextObservesShutdown(t *testing.T) {
	bus := eventbus.New(zap.NewNop())

	sub, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	result := make(chan bool, 1)
	go func() {
		_, ok := sub.Next(context.Background())
		result <- ok
	}()

	bus.Shutdown()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after shutdown")
	}

	_, err = bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, eventbus.ErrBusStopped)
	assert.False(t, bus.Running())

	_, ok := <-bus.Main()
	assert.False(t, ok)

	sub.Close()
	bus.Shutdown()
}

func TestTrySend_DeliversThroughRun(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	sub, err := bus.SubscribeKind(ctx, events.KindConnectionStatus)
	require.NoError(t, err)

	ok := bus.TrySend(events.NewConnectionStatus(events.SourceSerial, time.Now(), "serial", true, ""), "", time.Second)
	require.True(t, ok)

	evt, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.True(t, evt.(events.ConnectionStatus).Connected)
}

func TestTrySend_TimesOutWhenIngressFull(t *testing.T) {
	bus := eventbus.New(zap.NewNop(), eventbus.WithIngressCapacity(1))
	defer bus.Shutdown()

	// Run is not started, so the single ingress slot stays occupied
	require.True(t, bus.TrySend(update(1), "", 10*time.Millisecond))

	start := time.Now()
	assert.False(t, bus.TrySend(update(2), "", 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestTrySend_FalseAfterShutdown(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	bus.Shutdown()

	assert.False(t, bus.TrySend(update(1), "", time.Second))
}
