package consumer

import (
	"context"
	"sync"
	"time"

	"wisefido-vitals/internal/events"
	"wisefido-vitals/internal/metrics"

	"go.uber.org/zap"
)

// Publisher hand-off into the event bus; satisfied by *eventbus.Bus
type Publisher interface {
	TrySend(evt events.Event, topic string, timeout time.Duration) bool
}

// Adapter lifecycle shared by every ingestion adapter
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
}

// connTracker publishes ConnectionStatus only on transitions
type connTracker struct {
	adapter     string
	source      events.Source
	pub         Publisher
	sendTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu    sync.Mutex
	known bool
	up    bool
}

func (t *connTracker) set(connected bool, detail string, now time.Time) {
	t.mu.Lock()
	if t.known && t.up == connected {
		t.mu.Unlock()
		return
	}
	t.known = true
	t.up = connected
	t.mu.Unlock()

	t.metrics.AdapterConnection(t.adapter, connected)
	if connected {
		t.logger.Info("Adapter connected", zap.String("adapter", t.adapter))
	} else {
		t.logger.Warn("Adapter disconnected", zap.String("adapter", t.adapter), zap.String("detail", detail))
	}
	t.pub.TrySend(events.NewConnectionStatus(t.source, now, t.adapter, connected, detail), "", t.sendTimeout)
}

// sleepCtx waits d or until ctx is done; reports whether the full delay elapsed
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
