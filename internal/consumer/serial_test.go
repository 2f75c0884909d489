package consumer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePort returns queued chunks, or zero bytes after the read timeout
type fakePort struct {
	data    chan []byte
	closed  chan struct{}
	once    sync.Once
	timeout time.Duration
}

func newFakePort() *fakePort {
	return &fakePort{data: make(chan []byte, 16), closed: make(chan struct{}), timeout: 10 * time.Millisecond}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.data:
		return copy(b, chunk), nil
	case <-p.closed:
		return 0, io.EOF
	case <-time.After(p.timeout):
		return 0, nil
	}
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error { return nil }

func TestParseLine(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		line   string
		ok     bool
		values map[string]float64
		status string
		time   time.Time
	}{
		{
			name:   "full line",
			line:   "01-May-24 08:59:58  97   64  3.2",
			ok:     true,
			values: map[string]float64{"spo2": 97, "bpm": 64, "perfusion": 3.2},
			time:   time.Date(2024, 5, 1, 8, 59, 58, 0, time.UTC),
		},
		{
			name:   "markers stripped and status kept",
			line:   "01-May-24 08:59:58 88* 131+ 1.1 SENSOR OFF",
			ok:     true,
			values: map[string]float64{"spo2": 88, "bpm": 131, "perfusion": 1.1},
			status: "SENSOR OFF",
			time:   time.Date(2024, 5, 1, 8, 59, 58, 0, time.UTC),
		},
		{
			name:   "multibyte markers stripped",
			line:   "01-May-24 08:59:58 96° 70↑ 2.4",
			ok:     true,
			values: map[string]float64{"spo2": 96, "bpm": 70, "perfusion": 2.4},
			time:   time.Date(2024, 5, 1, 8, 59, 58, 0, time.UTC),
		},
		{
			name:   "non numeric omitted",
			line:   "01-May-24 08:59:58 --- --- 0.0 PROBE",
			ok:     true,
			values: map[string]float64{"perfusion": 0},
			status: "PROBE",
			time:   time.Date(2024, 5, 1, 8, 59, 58, 0, time.UTC),
		},
		{
			name:   "bad timestamp falls back to now",
			line:   "garbage stamp 95 70 2.0",
			ok:     true,
			values: map[string]float64{"spo2": 95, "bpm": 70, "perfusion": 2},
			time:   now,
		},
		{
			name: "too few tokens",
			line: "01-May-24 08:59:58 97 64",
		},
		{
			name: "empty",
			line: "   ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := ParseLine(tt.line, now)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.values, p.Values)
			assert.Equal(t, tt.status, p.Status)
			assert.True(t, tt.time.Equal(p.Time), "got %s", p.Time)
		})
	}
}

func TestSerialConsumer_OneTimeoutPerWindow(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewSerialConsumer(SerialConfig{
		Device:         "ox",
		Timeout:        10 * time.Second,
		TimeoutRecheck: time.Second,
	}, nil, pub, nil, zap.NewNop())

	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now := t0
	c.SetClock(func() time.Time { return now })
	c.lastActivity, c.lastCheck = t0, t0

	// poll far more often than the cool-down
	for i := 1; i <= 350; i++ {
		now = t0.Add(time.Duration(i) * 100 * time.Millisecond)
		c.checkTimeout(now)
	}
	ups := pub.updates()
	require.Len(t, ups, 3, "one sentinel per 10s window over 35s")
	for _, u := range ups {
		assert.Equal(t, "timeout", u.Status)
		assert.Equal(t, models.DisconnectSentinel, u.Values["spo2"])
		assert.Equal(t, models.DisconnectSentinel, u.Values["bpm"])
	}

	// a real reading resumes normal publishing and re-arms the window
	c.handleLine("01-May-24 09:00:35 97 64 3.2")
	ups = pub.updates()
	require.Len(t, ups, 4)
	assert.Equal(t, "", ups[3].Status)
	assert.Equal(t, 97.0, ups[3].Values["spo2"])

	for i := 1; i <= 95; i++ {
		now = t0.Add(35*time.Second + time.Duration(i)*100*time.Millisecond)
		c.checkTimeout(now)
	}
	assert.Len(t, pub.updates(), 4, "no timeout within 10s of the last reading")

	now = t0.Add(46 * time.Second)
	c.checkTimeout(now)
	assert.Len(t, pub.updates(), 5)
}

func TestSerialConsumer_ReadsLinesAndReportsConnection(t *testing.T) {
	pub := &recordingPublisher{}
	port := newFakePort()

	var opens int
	var mu sync.Mutex
	opener := func(name string, baud int) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens == 1 {
			return nil, errors.New("no such device")
		}
		return port, nil
	}

	c := NewSerialConsumer(SerialConfig{
		Port:           "/dev/ttyFAKE",
		BaudRate:       9600,
		Timeout:        time.Hour,
		TimeoutRecheck: 10 * time.Millisecond,
		Backoff:        10 * time.Millisecond,
	}, opener, pub, nil, zap.NewNop())

	require.NoError(t, c.Start(context.Background()))

	port.data <- []byte("01-May-24 09:00:00 96 6")
	port.data <- []byte("8 2.5\r\nshort line\n")

	require.Eventually(t, func() bool { return len(pub.updates()) == 1 }, 2*time.Second, 5*time.Millisecond)
	u := pub.updates()[0]
	assert.Equal(t, map[string]float64{"spo2": 96, "bpm": 68, "perfusion": 2.5}, u.Values)
	assert.Equal(t, "oximeter", u.Device)
	assert.Equal(t, models.KindPulseOx, u.Vital)

	c.Stop()

	statuses := pub.statuses()
	require.GreaterOrEqual(t, len(statuses), 2)
	assert.False(t, statuses[0].Connected)
	assert.Contains(t, statuses[0].Detail, "no such device")
	assert.True(t, statuses[1].Connected)
}
