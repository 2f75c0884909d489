package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"wisefido-vitals/common/database"
	"wisefido-vitals/common/logger"
	cmqtt "wisefido-vitals/common/mqtt"
	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/consumer"
	"wisefido-vitals/internal/evaluator"
	"wisefido-vitals/internal/eventbus"
	httpapi "wisefido-vitals/internal/http"
	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/monitor"
	"wisefido-vitals/internal/publisher"
	"wisefido-vitals/internal/realtime"
	"wisefido-vitals/internal/recorder"
	"wisefido-vitals/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// VitalsService wires the bus, its consumers and the ingestion adapters, and owns their lifecycle
type VitalsService struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *cmqtt.Client
	store       repository.Storage

	bus        *eventbus.Bus
	recorder   *recorder.Recorder
	monitor    *monitor.Monitor
	hub        *realtime.Hub
	publisher  *publisher.Publisher
	router     *httpapi.Router
	server     *Server
	adapters   []consumer.Adapter
	cancel     context.CancelFunc
	serverDone chan struct{}
}

// NewVitalsService connects the enabled backends and builds every component
func NewVitalsService(cfg *config.Config, log *zap.Logger) (*VitalsService, error) {
	s := &VitalsService{
		config:  cfg,
		logger:  log,
		metrics: metrics.New(),
	}

	if cfg.Enabled.DB {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		pg := repository.NewPostgresStore(db, logger.Component(log, "repository"))
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to prepare schema: %w", err)
		}
		s.db = db
		s.store = pg
	} else {
		log.Warn("Database disabled, using in-memory storage")
		s.store = repository.NewMemoryStore()
	}

	if cfg.Enabled.Redis {
		client := rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), client); err != nil {
			s.closeBackends()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redisClient = client
	}

	if cfg.Enabled.MQTT {
		s.mqttClient = cmqtt.NewClient(&cfg.MQTT, logger.Component(log, "mqtt"))
	}

	s.build()
	return s, nil
}

func (s *VitalsService) build() {
	cfg := s.config
	log := s.logger

	s.bus = eventbus.New(logger.Component(log, "eventbus"),
		eventbus.WithCapacity(cfg.Bus.SubscriberCapacity),
		eventbus.WithIngressCapacity(cfg.Bus.IngressCapacity),
		eventbus.WithObserver(s.metrics),
	)

	thresholds := evaluator.NewThresholdProvider(s.store, cfg.Alert.Thresholds, cfg.Alert.ThresholdTTL, logger.Component(log, "thresholds"))
	groups := evaluator.DefaultGroups()

	s.recorder = recorder.NewRecorder(recorder.Config{
		Stream:       cfg.Recorder.Stream,
		StreamMaxLen: cfg.Recorder.StreamMax,
		RealtimeKey:  cfg.Recorder.RealtimeKey,
		RealtimeTTL:  cfg.Recorder.RealtimeTTL,
		WriteTimeout: cfg.Alert.StorageTimeout,
	}, s.bus.Main(), s.redisClient, s.metrics, logger.Component(log, "recorder"))

	s.monitor = monitor.NewMonitor(monitor.Config{
		RecoveryWindow: cfg.Alert.RecoveryWindow,
		Tick:           cfg.Alert.Tick,
		StorageTimeout: cfg.Alert.StorageTimeout,
	}, s.bus, s.store, thresholds, groups, s.metrics, logger.Component(log, "monitor"))

	kinds := make([]string, 0, len(groups))
	accepted := make(map[string][]string, len(groups))
	for _, g := range groups {
		kinds = append(kinds, g.Name)
		accepted[g.Name] = append([]string(nil), g.Signals...)
	}
	accepted[models.KindPulseOx] = append(accepted[models.KindPulseOx], models.SignalPerfusion)

	s.hub = realtime.NewHub(realtime.Config{
		HistoryKinds:   kinds,
		HistoryLimit:   cfg.Alert.HistoryLimit,
		DueWindow:      cfg.Alert.DueWindow,
		StorageTimeout: cfg.Alert.StorageTimeout,
		SendTimeout:    cfg.Bus.TrySendTimeout,
	}, s.bus, s.store, thresholds, s.metrics, logger.Component(log, "realtime"))

	if s.mqttClient != nil {
		s.publisher = publisher.NewPublisher(publisher.Config{
			Prefix: cfg.Topics.Prefix,
			QoS:    cfg.MQTT.QoS,
		}, s.bus, s.mqttClient, s.metrics, logger.Component(log, "publisher"))
	}

	s.router = httpapi.NewRouter(logger.Component(log, "http"))
	s.router.RegisterVitalsRoutes(&httpapi.VitalsHandler{
		Bus:         s.bus,
		Alerts:      s.monitor,
		Snapshots:   s.hub,
		Kinds:       accepted,
		SendTimeout: cfg.Bus.TrySendTimeout,
		Logger:      logger.Component(log, "http"),
	})
	s.router.RegisterOpsRoutes(s.bus.Running, s.metrics.Handler(), s.hub)
	s.server = NewServer(cfg.HTTP.Addr, s.router, logger.Component(log, "http"))

	s.adapters = s.buildAdapters()
}

func (s *VitalsService) buildAdapters() []consumer.Adapter {
	cfg := s.config
	var adapters []consumer.Adapter

	if cfg.Enabled.Serial {
		adapters = append(adapters, consumer.NewSerialConsumer(consumer.SerialConfig{
			Port:           cfg.Serial.Port,
			BaudRate:       cfg.Serial.BaudRate,
			Device:         cfg.Serial.Device,
			Timeout:        cfg.Serial.Timeout,
			TimeoutRecheck: cfg.Serial.TimeoutRecheck,
			Backoff:        cfg.ReconnectBackoff,
			SendTimeout:    cfg.Bus.TrySendTimeout,
		}, nil, s.bus, s.metrics, logger.Component(s.logger, "serial")))
	}

	if cfg.Enabled.GPIO {
		adapters = append(adapters, consumer.NewGPIOConsumer(consumer.GPIOConfig{
			Chip:           cfg.GPIO.Chip,
			Alarm1Pins:     cfg.GPIO.Alarm1Pins,
			Alarm2Pins:     cfg.GPIO.Alarm2Pins,
			ActiveLow:      cfg.GPIO.ActiveLow,
			Debounce:       cfg.GPIO.Debounce,
			Alarm1Recovery: cfg.GPIO.Alarm1Recovery,
			Alarm2Recovery: cfg.GPIO.Alarm2Recovery,
			Backoff:        cfg.ReconnectBackoff,
			SendTimeout:    cfg.Bus.TrySendTimeout,
		}, nil, s.bus, s.metrics, logger.Component(s.logger, "gpio")))
	}

	if s.mqttClient != nil {
		adapters = append(adapters, consumer.NewMQTTConsumer(consumer.MQTTConfig{
			Topic:       cfg.Topics.Sensors,
			QoS:         cfg.MQTT.QoS,
			Backoff:     cfg.ReconnectBackoff,
			SendTimeout: cfg.Bus.TrySendTimeout,
		}, s.mqttClient, s.bus, s.metrics, logger.Component(s.logger, "mqtt-consumer")))
	}

	return adapters
}

// Handler the REST + WebSocket routes
func (s *VitalsService) Handler() http.Handler {
	return s.router
}

// Start brings components up in dependency order: bus, recorder, monitor, hub, publisher, HTTP, adapters
func (s *VitalsService) Start(ctx context.Context) error {
	s.logger.Info("Starting wisefido-vitals service components")

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.bus.Run(runCtx)

	if err := s.recorder.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start recorder: %w", err)
	}
	if err := s.monitor.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	if err := s.hub.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start websocket hub: %w", err)
	}
	if s.publisher != nil {
		if err := s.publisher.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start mqtt publisher: %w", err)
		}
	}

	s.serverDone = make(chan struct{})
	go func() {
		defer close(s.serverDone)
		if err := s.server.Start(); err != nil {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	for _, a := range s.adapters {
		if err := a.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start %s adapter: %w", a.Name(), err)
		}
	}

	go s.metrics.Report(runCtx, s.logger, s.config.Alert.MetricsInterval)

	s.logger.Info("wisefido-vitals service started",
		zap.Int("adapters", len(s.adapters)),
		zap.Bool("database", s.db != nil),
		zap.Bool("redis", s.redisClient != nil),
		zap.Bool("mqtt", s.mqttClient != nil),
	)
	return nil
}

// Stop tears down in reverse: adapters (bounded), HTTP, bus, then backends
func (s *VitalsService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping wisefido-vitals service")

	s.stopAdapters()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.HTTP.ShutdownTimeout)
	if err := s.server.Stop(shutdownCtx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	cancel()
	if s.serverDone != nil {
		<-s.serverDone
	}

	s.bus.Shutdown()
	s.hub.Stop()
	if s.publisher != nil {
		s.publisher.Stop()
	}
	s.waitFor("monitor", s.monitor.Done())
	s.waitFor("recorder", s.recorder.Done())
	if s.cancel != nil {
		s.cancel()
	}

	s.closeBackends()

	stats := s.metrics.GetSnapshot()
	s.logger.Info("wisefido-vitals service stopped",
		zap.Int64("events_published", stats.EventsPublished),
		zap.Int64("events_dropped", stats.EventsDropped),
	)
	return nil
}

func (s *VitalsService) stopAdapters() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(s.adapters) - 1; i >= 0; i-- {
			s.adapters[i].Stop()
		}
	}()

	select {
	case <-done:
	case <-time.After(s.config.AdapterStopTimeout):
		s.logger.Warn("Adapters did not stop in time, continuing shutdown",
			zap.Duration("timeout", s.config.AdapterStopTimeout))
	}
}

func (s *VitalsService) waitFor(name string, done <-chan struct{}) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(s.config.AdapterStopTimeout):
		s.logger.Warn("Component did not drain in time", zap.String("component", name))
	}
}

func (s *VitalsService) closeBackends() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}
}
