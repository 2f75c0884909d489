package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"wisefido-vitals/internal/events"
	"wisefido-vitals/internal/metrics"

	"go.uber.org/zap"
)

// ErrGPIOUnsupported the platform has no GPIO character device support
var ErrGPIOUnsupported = errors.New("gpio not supported on this platform")

// EdgeHandler receives the logical level of a pin after each debounced edge
type EdgeHandler func(pin int, active bool)

// EdgeWatcher delivers pin levels; Watch reports the initial level of every pin before returning
type EdgeWatcher interface {
	Watch(pins []int, handler EdgeHandler) error
	Close() error
}

// WatcherFactory opens an EdgeWatcher on a chip
type WatcherFactory func(chip string, debounce time.Duration, activeLow bool) (EdgeWatcher, error)

// GPIOConfig two alarm inputs, each backed by one or more pins
type GPIOConfig struct {
	Chip           string
	Alarm1Pins     []int
	Alarm2Pins     []int
	ActiveLow      bool
	Debounce       time.Duration
	Alarm1Recovery time.Duration
	Alarm2Recovery time.Duration
	Backoff        time.Duration
	SendTimeout    time.Duration
}

type alarmLine struct {
	pins     map[int]bool
	recovery time.Duration
	active   bool
	timer    *time.Timer
	gen      uint64
}

func (a *alarmLine) anyPinActive() bool {
	for _, on := range a.pins {
		if on {
			return true
		}
	}
	return false
}

// GPIOConsumer turns alarm pin edges into AlarmPanelState events.
// Activation is published at once; clearing waits out the alarm's recovery timer.
type GPIOConsumer struct {
	config  GPIOConfig
	factory WatcherFactory
	pub     Publisher
	conn    *connTracker
	logger  *zap.Logger

	mu      sync.Mutex
	alarms  [2]*alarmLine
	watcher EdgeWatcher
	stopped bool

	states chan events.AlarmPanelState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGPIOConsumer factory may be nil to use the platform's gpiocdev watcher
func NewGPIOConsumer(cfg GPIOConfig, factory WatcherFactory, pub Publisher, m *metrics.Metrics, logger *zap.Logger) *GPIOConsumer {
	if factory == nil {
		factory = NewGPIOWatcher
	}
	c := &GPIOConsumer{
		config:  cfg,
		factory: factory,
		pub:     pub,
		logger:  logger,
		states:  make(chan events.AlarmPanelState, 16),
		conn: &connTracker{
			adapter:     "gpio",
			source:      events.SourceGPIO,
			pub:         pub,
			sendTimeout: cfg.SendTimeout,
			metrics:     m,
			logger:      logger,
		},
	}
	c.alarms[0] = newAlarmLine(cfg.Alarm1Pins, cfg.Alarm1Recovery)
	c.alarms[1] = newAlarmLine(cfg.Alarm2Pins, cfg.Alarm2Recovery)
	return c
}

func newAlarmLine(pins []int, recovery time.Duration) *alarmLine {
	a := &alarmLine{pins: make(map[int]bool, len(pins)), recovery: recovery}
	for _, p := range pins {
		a.pins[p] = false
	}
	return a
}

func (c *GPIOConsumer) Name() string { return "gpio" }

// Start opens the watcher (retrying with backoff) and forwards state changes to the bus
func (c *GPIOConsumer) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.forward(loopCtx)
	go c.connect(loopCtx)

	c.logger.Info("GPIO consumer started",
		zap.String("chip", c.config.Chip),
		zap.Ints("alarm1_pins", c.config.Alarm1Pins),
		zap.Ints("alarm2_pins", c.config.Alarm2Pins),
	)
	return nil
}

// Stop closes the watcher, cancels pending recovery timers and waits for the forwarder
func (c *GPIOConsumer) Stop() {
	if c.cancel == nil {
		return
	}

	c.mu.Lock()
	c.stopped = true
	w := c.watcher
	c.watcher = nil
	for _, a := range c.alarms {
		if a.timer != nil {
			a.timer.Stop()
			a.timer = nil
		}
		a.gen++
	}
	c.mu.Unlock()

	if w != nil {
		if err := w.Close(); err != nil {
			c.logger.Warn("Failed to close GPIO watcher", zap.Error(err))
		}
	}
	c.cancel()
	<-c.done
	c.logger.Info("GPIO consumer stopped")
}

func (c *GPIOConsumer) connect(ctx context.Context) {
	pins := append(append([]int(nil), c.config.Alarm1Pins...), c.config.Alarm2Pins...)

	for ctx.Err() == nil {
		w, err := c.factory(c.config.Chip, c.config.Debounce, c.config.ActiveLow)
		if err == nil {
			err = w.Watch(pins, c.onEdge)
			if err != nil {
				_ = w.Close()
			}
		}
		if errors.Is(err, ErrGPIOUnsupported) {
			c.conn.set(false, err.Error(), time.Now())
			c.logger.Error("GPIO unavailable, alarm inputs disabled", zap.Error(err))
			return
		}
		if err != nil {
			c.conn.set(false, err.Error(), time.Now())
			c.logger.Error("Failed to watch GPIO lines",
				zap.String("chip", c.config.Chip),
				zap.Duration("backoff", c.config.Backoff),
				zap.Error(err),
			)
			sleepCtx(ctx, c.config.Backoff)
			continue
		}

		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			_ = w.Close()
			return
		}
		c.watcher = w
		c.mu.Unlock()

		c.conn.set(true, "", time.Now())
		c.emit()
		return
	}
}

// onEdge runs on the watcher's goroutine
func (c *GPIOConsumer) onEdge(pin int, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	for idx, a := range c.alarms {
		if _, ok := a.pins[pin]; !ok {
			continue
		}
		a.pins[pin] = active

		if a.anyPinActive() {
			if a.timer != nil {
				a.timer.Stop()
				a.timer = nil
				a.gen++
			}
			if !a.active {
				a.active = true
				c.logger.Info("Alarm input active", zap.Int("alarm", idx+1), zap.Int("pin", pin))
				c.emitLocked()
			}
			continue
		}

		if a.active && a.timer == nil {
			a.gen++
			gen := a.gen
			alarm := idx
			a.timer = time.AfterFunc(a.recovery, func() { c.recover(alarm, gen) })
		}
	}
}

func (c *GPIOConsumer) recover(idx int, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := c.alarms[idx]
	if c.stopped || a.gen != gen || a.anyPinActive() {
		return
	}
	a.timer = nil
	a.active = false
	c.logger.Info("Alarm input cleared", zap.Int("alarm", idx+1))
	c.emitLocked()
}

// Alarms current published levels
func (c *GPIOConsumer) Alarms() (alarm1, alarm2 bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alarms[0].active, c.alarms[1].active
}

func (c *GPIOConsumer) emit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked()
}

// emitLocked queues the current state for the forwarder; caller holds c.mu
func (c *GPIOConsumer) emitLocked() {
	state := events.NewAlarmPanelState(time.Now(), c.alarms[0].active, c.alarms[1].active)
	select {
	case c.states <- state:
	default:
		c.logger.Warn("GPIO state queue full, dropping alarm state")
	}
}

// forward moves queued states onto the bus outside of c.mu
func (c *GPIOConsumer) forward(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-c.states:
			c.pub.TrySend(st, "", c.config.SendTimeout)
		}
	}
}
