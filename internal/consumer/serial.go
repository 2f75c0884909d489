package consumer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"wisefido-vitals/internal/events"
	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/models"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const maxSerialLine = 1024

// Port the part of a serial port the consumer needs
type Port interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
}

// PortOpener opens a named port at a baud rate
type PortOpener func(name string, baud int) (Port, error)

// OpenSerialPort default PortOpener backed by go.bug.st/serial
func OpenSerialPort(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return p, nil
}

// SerialConfig serial adapter settings
type SerialConfig struct {
	Port           string
	BaudRate       int
	Device         string
	Timeout        time.Duration // silence before a sentinel update
	TimeoutRecheck time.Duration // cool-down between timeout checks; also the port read timeout
	Backoff        time.Duration
	SendTimeout    time.Duration
}

// SerialConsumer reads oximeter lines from a serial port and publishes SensorUpdate events
type SerialConsumer struct {
	config SerialConfig
	opener PortOpener
	pub    Publisher
	conn   *connTracker
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	port   Port
	done   chan struct{}

	lastActivity time.Time
	lastCheck    time.Time
}

// NewSerialConsumer opener may be nil to use the real serial port
func NewSerialConsumer(cfg SerialConfig, opener PortOpener, pub Publisher, m *metrics.Metrics, logger *zap.Logger) *SerialConsumer {
	if opener == nil {
		opener = OpenSerialPort
	}
	if cfg.Device == "" {
		cfg.Device = "oximeter"
	}
	return &SerialConsumer{
		config: cfg,
		opener: opener,
		pub:    pub,
		logger: logger,
		now:    time.Now,
		conn: &connTracker{
			adapter:     "serial",
			source:      events.SourceSerial,
			pub:         pub,
			sendTimeout: cfg.SendTimeout,
			metrics:     m,
			logger:      logger,
		},
	}
}

// SetClock replaces the time source; call before Start
func (c *SerialConsumer) SetClock(now func() time.Time) {
	c.now = now
}

func (c *SerialConsumer) Name() string { return "serial" }

// Start launches the read loop in its own goroutine
func (c *SerialConsumer) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(loopCtx)

	c.logger.Info("Serial consumer started",
		zap.String("port", c.config.Port),
		zap.Int("baud", c.config.BaudRate),
	)
	return nil
}

// Stop cancels the loop, closes the port and waits for the loop to exit
func (c *SerialConsumer) Stop() {
	c.mu.Lock()
	cancel, port, done := c.cancel, c.port, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if port != nil {
		_ = port.Close()
	}
	<-done
	c.logger.Info("Serial consumer stopped")
}

func (c *SerialConsumer) run(ctx context.Context) {
	defer close(c.done)

	for ctx.Err() == nil {
		port, err := c.opener(c.config.Port, c.config.BaudRate)
		if err != nil {
			c.conn.set(false, err.Error(), c.now())
			c.logger.Error("Failed to open serial port",
				zap.String("port", c.config.Port),
				zap.Duration("backoff", c.config.Backoff),
				zap.Error(err),
			)
			sleepCtx(ctx, c.config.Backoff)
			continue
		}

		if err := port.SetReadTimeout(c.config.TimeoutRecheck); err != nil {
			c.logger.Warn("Failed to set serial read timeout", zap.Error(err))
		}

		c.mu.Lock()
		c.port = port
		c.mu.Unlock()

		c.conn.set(true, "", c.now())
		err = c.readLoop(ctx, port)

		c.mu.Lock()
		c.port = nil
		c.mu.Unlock()
		_ = port.Close()

		if ctx.Err() != nil {
			return
		}

		detail := "port closed"
		if err != nil {
			detail = err.Error()
		}
		c.conn.set(false, detail, c.now())
		c.logger.Error("Serial read failed, reconnecting",
			zap.String("port", c.config.Port),
			zap.Duration("backoff", c.config.Backoff),
			zap.Error(err),
		)
		sleepCtx(ctx, c.config.Backoff)
	}
}

// readLoop frames bytes into lines. A zero-byte read is the port's read timeout firing.
func (c *SerialConsumer) readLoop(ctx context.Context, port Port) error {
	now := c.now()
	c.lastActivity = now
	c.lastCheck = now

	buf := make([]byte, 256)
	var line []byte

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := port.Read(buf)
		if err != nil {
			return err
		}

		for _, b := range buf[:n] {
			if b != '\n' {
				if len(line) < maxSerialLine {
					line = append(line, b)
				}
				continue
			}
			c.handleLine(string(bytes.TrimRight(line, "\r")))
			line = line[:0]
		}

		c.checkTimeout(c.now())
	}
}

func (c *SerialConsumer) handleLine(line string) {
	now := c.now()
	parsed, ok := ParseLine(line, now)
	if !ok {
		c.logger.Debug("Discarding malformed serial line", zap.String("line", line))
		return
	}
	c.lastActivity = now

	if len(parsed.Values) == 0 && parsed.Status == "" {
		return
	}
	c.pub.TrySend(events.NewSensorUpdate(events.SourceSerial, parsed.Time, c.config.Device, models.KindPulseOx,
		parsed.Values, parsed.Status), "", c.config.SendTimeout)
}

// checkTimeout publishes one sentinel per elapsed silence window, then re-arms
func (c *SerialConsumer) checkTimeout(now time.Time) {
	if now.Sub(c.lastCheck) < c.config.TimeoutRecheck {
		return
	}
	c.lastCheck = now

	if now.Sub(c.lastActivity) < c.config.Timeout {
		return
	}
	c.lastActivity = now

	c.logger.Warn("No serial data, publishing timeout",
		zap.String("device", c.config.Device),
		zap.Duration("window", c.config.Timeout),
	)
	c.pub.TrySend(events.NewSensorUpdate(events.SourceSerial, now, c.config.Device, models.KindPulseOx,
		map[string]float64{
			models.SignalSpO2: models.DisconnectSentinel,
			models.SignalBPM:  models.DisconnectSentinel,
		}, "timeout"), "", c.config.SendTimeout)
}
