package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	credis "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/events"
	"wisefido-vitals/internal/metrics"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Config audit stream and realtime cache key
type Config struct {
	Stream       string
	StreamMaxLen int64
	RealtimeKey  string
	RealtimeTTL  time.Duration
	WriteTimeout time.Duration
}

// Recorder drains the bus main queue. With Redis configured every event is appended to the
// audit stream and the merged latest sensor values are cached under RealtimeKey.
type Recorder struct {
	config  Config
	main    <-chan events.Event
	client  *redis.Client
	kv      credis.KVStore
	metrics *metrics.Metrics
	logger  *zap.Logger

	latest   map[string]float64
	recorded uint64
	failures uint64
	done     chan struct{}
}

type realtimeValue struct {
	Sensors   map[string]float64 `json:"sensors"`
	Status    string             `json:"status,omitempty"`
	Device    string             `json:"device,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewRecorder client may be nil; events are then only drained
func NewRecorder(cfg Config, main <-chan events.Event, client *redis.Client, m *metrics.Metrics, logger *zap.Logger) *Recorder {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	r := &Recorder{
		config:  cfg,
		main:    main,
		client:  client,
		metrics: m,
		logger:  logger,
		latest:  make(map[string]float64),
	}
	if client != nil {
		r.kv = credis.NewRedisKVStore(client)
	}
	return r
}

// Start runs until the main queue is closed by bus shutdown
func (r *Recorder) Start(context.Context) error {
	r.done = make(chan struct{})
	go r.run()
	r.logger.Info("Recorder started",
		zap.Bool("redis", r.client != nil),
		zap.String("stream", r.config.Stream),
	)
	return nil
}

// Done closes after the main queue has been drained
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for evt := range r.main {
		if r.client == nil {
			continue
		}
		if err := r.record(evt); err != nil {
			r.failures++
			r.metrics.StorageError("record_event")
			r.logger.Warn("Failed to record event", zap.String("kind", string(evt.Kind())), zap.Error(err))
			continue
		}
		r.recorded++
	}
	r.logger.Info("Recorder stopped", zap.Uint64("recorded", r.recorded), zap.Uint64("failures", r.failures))
}

func (r *Recorder) record(evt events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	body, err := events.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := credis.PublishJSONToStream(ctx, r.client, r.config.Stream, r.config.StreamMaxLen, json.RawMessage(body)); err != nil {
		return err
	}

	if u, ok := evt.(events.SensorUpdate); ok && r.config.RealtimeKey != "" {
		return r.cacheLatest(ctx, u)
	}
	return nil
}

func (r *Recorder) cacheLatest(ctx context.Context, u events.SensorUpdate) error {
	for k, v := range u.Values {
		r.latest[k] = v
	}
	data, err := json.Marshal(realtimeValue{
		Sensors:   r.latest,
		Status:    u.Status,
		Device:    u.Device,
		UpdatedAt: u.Time(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal realtime value: %w", err)
	}
	if err := r.kv.Set(ctx, r.config.RealtimeKey, string(data), r.config.RealtimeTTL); err != nil {
		return fmt.Errorf("failed to cache realtime value: %w", err)
	}
	return nil
}
