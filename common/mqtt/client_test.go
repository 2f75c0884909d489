package mqtt_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"wisefido-vitals/common/config"
	cmqtt "wisefido-vitals/common/mqtt"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func startBroker(t *testing.T) string {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Type:    "tcp",
		Address: addr,
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { _ = broker.Close() })

	return "tcp://" + addr
}

func newTestClient(broker, id string) *cmqtt.Client {
	return cmqtt.NewClient(&config.MQTTConfig{
		Broker:         broker,
		ClientID:       id,
		ConnectTimeout: 2 * time.Second,
	}, zap.NewNop())
}

func TestClient_PublishSubscribe(t *testing.T) {
	broker := startBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := newTestClient(broker, "sub")
	got := make(chan string, 1)
	require.NoError(t, sub.Subscribe("vitals/+/+", 1, func(topic string, payload []byte) error {
		got <- topic + "=" + string(payload)
		return nil
	}))
	connected := make(chan struct{}, 1)
	sub.OnConnect(func() { connected <- struct{}{} })
	require.NoError(t, sub.Connect(ctx, 100*time.Millisecond))
	defer sub.Disconnect()

	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatal("subscriber never connected")
	}
	// resubscribe runs inside the connect hook path; give the broker a moment
	require.Eventually(t, sub.IsConnected, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	pub := newTestClient(broker, "pub")
	require.NoError(t, pub.Connect(ctx, 100*time.Millisecond))
	defer pub.Disconnect()

	require.NoError(t, pub.Publish("vitals/bed1/pulse_ox", 1, false, []byte(`{"spo2":97}`)))

	select {
	case msg := <-got:
		require.Equal(t, `vitals/bed1/pulse_ox={"spo2":97}`, msg)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestClient_ConnectGivesUpOnContextCancel(t *testing.T) {
	c := newTestClient(fmt.Sprintf("tcp://127.0.0.1:%d", freePort(t)), "lonely")

	lost := make(chan error, 4)
	c.OnConnectionLost(func(err error) {
		select {
		case lost <- err:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := c.Connect(ctx, 50*time.Millisecond)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotEmpty(t, lost)
	require.False(t, c.IsConnected())
	require.Equal(t, "lonely", c.ClientID())
}
