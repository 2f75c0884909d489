package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"wisefido-vitals/internal/evaluator"
	"wisefido-vitals/internal/eventbus"
	"wisefido-vitals/internal/events"
	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/repository"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config fan-out tuning
type Config struct {
	HistoryKinds   []string
	HistoryLimit   int
	DueWindow      time.Duration
	StorageTimeout time.Duration
	WriteTimeout   time.Duration // default 10s
	PingInterval   time.Duration // default 30s
	SendTimeout    time.Duration // bus hand-off for lifecycle and sync requests
}

// Hub serves dashboards over WebSocket and pushes a full snapshot after every relevant bus event
type Hub struct {
	config     Config
	bus        *eventbus.Bus
	store      repository.Storage
	thresholds *evaluator.ThresholdProvider
	metrics    *metrics.Metrics
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]*client

	stateMu sync.RWMutex
	state   *mirror

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub store may be nil; snapshots then carry no history or counts
func NewHub(cfg Config, bus *eventbus.Bus, store repository.Storage, thresholds *evaluator.ThresholdProvider, m *metrics.Metrics, logger *zap.Logger) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 3 * time.Second
	}
	return &Hub{
		config:     cfg,
		bus:        bus,
		store:      store,
		thresholds: thresholds,
		metrics:    m,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		state:   newMirror(),
	}
}

// Start subscribes to the dashboard-relevant kinds and runs the hub loop
func (h *Hub) Start(ctx context.Context) error {
	sub, err := h.bus.SubscribeKind(ctx,
		events.KindSensorUpdate,
		events.KindAlarmPanelState,
		events.KindConnectionStatus,
		events.KindAlertTriggered,
		events.KindAlertResolved,
		events.KindStateSyncRequest,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe hub: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	go h.run(loopCtx, sub)
	go h.pingLoop(loopCtx)

	h.logger.Info("WebSocket hub started")
	return nil
}

// Stop ends the loop and closes every client connection
func (h *Hub) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done

	for _, c := range h.snapshotClients() {
		h.removeClient(c)
	}
	h.wg.Wait()
	h.logger.Info("WebSocket hub stopped")
}

func (h *Hub) run(ctx context.Context, sub *eventbus.Subscription) {
	defer close(h.done)
	defer sub.Close()

	for {
		evt, ok := sub.Next(ctx)
		if !ok {
			return
		}

		if req, isSync := evt.(events.StateSyncRequest); isSync {
			h.sync(ctx, req.ClientID)
			continue
		}

		h.stateMu.Lock()
		changed := h.state.apply(evt)
		h.stateMu.Unlock()
		if changed {
			h.broadcast(ctx)
		}
	}
}

// sync sends a snapshot to one client, or everyone when clientID is empty
func (h *Hub) sync(ctx context.Context, clientID string) {
	if clientID == "" {
		h.broadcast(ctx)
		return
	}

	h.clientsMu.RLock()
	c, ok := h.clients[clientID]
	h.clientsMu.RUnlock()
	if !ok {
		return
	}

	data, err := h.encodeSnapshot(ctx)
	if err != nil {
		h.logger.Error("Failed to encode snapshot", zap.Error(err))
		return
	}
	h.send(c, data)
}

// requestSync routes the snapshot through the bus; when the hand-off times out
// the client is served directly so it never waits for the next event
func (h *Hub) requestSync(ctx context.Context, c *client) {
	if h.bus.TrySend(events.NewStateSyncRequest(time.Now(), c.id), "", h.config.SendTimeout) {
		return
	}
	h.sync(ctx, c.id)
}

func (h *Hub) broadcast(ctx context.Context) {
	clients := h.snapshotClients()
	if len(clients) == 0 {
		return
	}

	data, err := h.encodeSnapshot(ctx)
	if err != nil {
		h.logger.Error("Failed to encode snapshot", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		if c.closed.Load() {
			continue
		}
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			h.send(c, data)
		}(c)
	}
	wg.Wait()
}

func (h *Hub) encodeSnapshot(ctx context.Context) ([]byte, error) {
	snap := h.Snapshot(ctx)
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// send removes only the failing client
func (h *Hub) send(c *client, data []byte) {
	if err := c.write(websocket.TextMessage, data, h.config.WriteTimeout); err != nil {
		h.logger.Debug("Failed to send snapshot, dropping client", zap.String("client_id", c.id), zap.Error(err))
		h.removeClient(c)
		return
	}
	h.metrics.SnapshotBroadcast()
}

func (h *Hub) snapshotClients() []*client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// ClientCount number of connected dashboards
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client. The initial snapshot is
// requested through the bus so it is ordered after every event already queued.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{id: uuid.New().String(), conn: conn, connectedAt: time.Now()}

	h.clientsMu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.clientsMu.Unlock()

	h.metrics.ClientsConnected(n)
	h.logger.Info("WebSocket client connected",
		zap.String("client_id", c.id),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("clients", n),
	)

	h.bus.TrySend(events.NewClientLifecycle(time.Now(), c.id, true), "", h.config.SendTimeout)
	h.requestSync(r.Context(), c)

	h.wg.Add(1)
	go h.readLoop(c)
}

// readLoop handles inbound control messages until the connection fails
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.removeClient(c)

	readTimeout := 2 * h.config.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("Ignoring malformed client message", zap.String("client_id", c.id), zap.Error(err))
			continue
		}

		switch msg.Type {
		case "sync":
			h.requestSync(context.Background(), c)
		default:
			h.logger.Debug("Ignoring unknown client message", zap.String("client_id", c.id), zap.String("type", msg.Type))
		}
	}
}

func (h *Hub) removeClient(c *client) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		h.clientsMu.Lock()
		delete(h.clients, c.id)
		n := len(h.clients)
		h.clientsMu.Unlock()

		_ = c.conn.Close()
		h.metrics.ClientsConnected(n)
		h.logger.Info("WebSocket client disconnected",
			zap.String("client_id", c.id),
			zap.Duration("connected_for", time.Since(c.connectedAt)),
			zap.Int("clients", n),
		)
		h.bus.TrySend(events.NewClientLifecycle(time.Now(), c.id, false), "", h.config.SendTimeout)
	})
}

func (h *Hub) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range h.snapshotClients() {
				if c.closed.Load() {
					continue
				}
				if err := c.write(websocket.PingMessage, nil, h.config.WriteTimeout); err != nil {
					h.removeClient(c)
				}
			}
		}
	}
}
