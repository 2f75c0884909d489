package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-vitals/common/config"
	"wisefido-vitals/internal/models"

	"gopkg.in/yaml.v3"
)

// Config vitals service configuration
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// Feature toggles; a disabled collaborator is simply not wired
	Enabled struct {
		Serial bool
		GPIO   bool
		MQTT   bool
		Redis  bool
		DB     bool
	}

	Bus struct {
		SubscriberCapacity int // per-subscription queue size, default 100
		IngressCapacity    int // adapter hand-off queue size, default 256
		TrySendTimeout     time.Duration
	}

	Serial struct {
		Port           string
		BaudRate       int
		Device         string        // device name stamped on updates
		Timeout        time.Duration // silence before the sentinel update, default 10s
		TimeoutRecheck time.Duration // cool-down between timeout checks, default 1s
	}

	GPIO struct {
		Chip           string
		Alarm1Pins     []int
		Alarm2Pins     []int
		ActiveLow      bool
		Debounce       time.Duration // default 10ms
		Alarm1Recovery time.Duration // default 30s
		Alarm2Recovery time.Duration // default 30s
	}

	Topics struct {
		Sensors string // inbound subscription filter, default "vitals/+/+"
		Prefix  string // outbound topic prefix, default "wisefido"
	}

	Alert struct {
		RecoveryWindow  time.Duration // default 30s
		Tick            time.Duration // default 1s
		ThresholdTTL    time.Duration // default 30s
		ThresholdsFile  string
		Thresholds      map[string]models.Threshold
		StorageTimeout  time.Duration
		HistoryLimit    int           // readings per vital kind in a snapshot, default 10
		DueWindow       time.Duration // care items due within this window are counted, default 24h
		MetricsInterval time.Duration
	}

	Recorder struct {
		Stream      string // default "vitals:events"
		StreamMax   int64  // approximate MAXLEN, default 10000
		RealtimeKey string // default "vitals:realtime"
		RealtimeTTL time.Duration
	}

	HTTP struct {
		Addr            string
		ShutdownTimeout time.Duration
	}

	ReconnectBackoff   time.Duration // fixed adapter retry delay, default 3s
	AdapterStopTimeout time.Duration // bounded join on shutdown, default 5s

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "wisefido")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.ConnMaxLifetime = 30 * time.Minute
	if err := cfg.Database.LoadFromEnv("DB"); err != nil {
		return nil, err
	}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	if err := cfg.Redis.LoadFromEnv("REDIS"); err != nil {
		return nil, err
	}

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", defaultClientID())
	cfg.MQTT.QoS = 1
	cfg.MQTT.KeepAlive = 30 * time.Second
	cfg.MQTT.ConnectTimeout = 5 * time.Second
	if err := cfg.MQTT.LoadFromEnv("MQTT"); err != nil {
		return nil, err
	}

	cfg.Enabled.Serial = getEnvBool("SERIAL_ENABLED", true)
	cfg.Enabled.GPIO = getEnvBool("GPIO_ENABLED", false)
	cfg.Enabled.MQTT = getEnvBool("MQTT_ENABLED", true)
	cfg.Enabled.Redis = getEnvBool("REDIS_ENABLED", true)
	cfg.Enabled.DB = getEnvBool("DB_ENABLED", true)

	cfg.Bus.SubscriberCapacity = getEnvInt("BUS_SUBSCRIBER_CAPACITY", 100)
	cfg.Bus.IngressCapacity = getEnvInt("BUS_INGRESS_CAPACITY", 256)
	cfg.Bus.TrySendTimeout = getEnvDuration("BUS_TRYSEND_TIMEOUT", time.Second)

	cfg.Serial.Port = getEnv("SERIAL_PORT", "/dev/ttyUSB0")
	cfg.Serial.BaudRate = getEnvInt("SERIAL_BAUD", 9600)
	cfg.Serial.Device = getEnv("SERIAL_DEVICE", "oximeter")
	cfg.Serial.Timeout = getEnvDuration("SERIAL_TIMEOUT", 10*time.Second)
	cfg.Serial.TimeoutRecheck = getEnvDuration("SERIAL_TIMEOUT_RECHECK", time.Second)

	var err error
	cfg.GPIO.Chip = getEnv("GPIO_CHIP", "gpiochip0")
	if cfg.GPIO.Alarm1Pins, err = getEnvInts("GPIO_ALARM1_PINS", []int{17, 27}); err != nil {
		return nil, err
	}
	if cfg.GPIO.Alarm2Pins, err = getEnvInts("GPIO_ALARM2_PINS", []int{22, 23}); err != nil {
		return nil, err
	}
	cfg.GPIO.ActiveLow = getEnvBool("GPIO_ACTIVE_LOW", true)
	cfg.GPIO.Debounce = getEnvDuration("GPIO_DEBOUNCE", 10*time.Millisecond)
	cfg.GPIO.Alarm1Recovery = getEnvDuration("GPIO_ALARM1_RECOVERY", 30*time.Second)
	cfg.GPIO.Alarm2Recovery = getEnvDuration("GPIO_ALARM2_RECOVERY", 30*time.Second)

	cfg.Topics.Sensors = getEnv("MQTT_TOPIC_SENSORS", "vitals/+/+")
	cfg.Topics.Prefix = getEnv("MQTT_TOPIC_PREFIX", "wisefido")

	cfg.Alert.RecoveryWindow = getEnvDuration("ALERT_RECOVERY_WINDOW", 30*time.Second)
	cfg.Alert.Tick = getEnvDuration("ALERT_TICK", time.Second)
	cfg.Alert.ThresholdTTL = getEnvDuration("THRESHOLD_CACHE_TTL", 30*time.Second)
	cfg.Alert.StorageTimeout = getEnvDuration("STORAGE_TIMEOUT", 3*time.Second)
	cfg.Alert.HistoryLimit = getEnvInt("SNAPSHOT_HISTORY_LIMIT", 10)
	cfg.Alert.DueWindow = getEnvDuration("SNAPSHOT_DUE_WINDOW", 24*time.Hour)
	cfg.Alert.MetricsInterval = getEnvDuration("METRICS_REPORT_INTERVAL", time.Minute)
	cfg.Alert.ThresholdsFile = getEnv("THRESHOLDS_FILE", "")
	cfg.Alert.Thresholds = models.DefaultThresholds()
	if cfg.Alert.ThresholdsFile != "" {
		if err := loadThresholdsFile(cfg.Alert.ThresholdsFile, cfg.Alert.Thresholds); err != nil {
			return nil, err
		}
	}
	applyThresholdEnv(cfg.Alert.Thresholds)

	cfg.Recorder.Stream = getEnv("REDIS_STREAM", "vitals:events")
	cfg.Recorder.StreamMax = int64(getEnvInt("REDIS_STREAM_MAXLEN", 10000))
	cfg.Recorder.RealtimeKey = getEnv("REDIS_REALTIME_KEY", "vitals:realtime")
	cfg.Recorder.RealtimeTTL = getEnvDuration("REDIS_REALTIME_TTL", 60*time.Second)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 5*time.Second)

	cfg.ReconnectBackoff = getEnvDuration("RECONNECT_BACKOFF", 3*time.Second)
	cfg.AdapterStopTimeout = getEnvDuration("ADAPTER_STOP_TIMEOUT", 5*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks the connection settings of the enabled backends
func (c *Config) validate() error {
	if c.Enabled.DB {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("invalid database config: %w", err)
		}
	}
	if c.Enabled.Redis {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("invalid redis config: %w", err)
		}
	}
	if c.Enabled.MQTT {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("invalid mqtt config: %w", err)
		}
	}
	return nil
}

type thresholdsFile struct {
	Thresholds []models.Threshold `yaml:"thresholds"`
}

// loadThresholdsFile merges a YAML list of thresholds into dst
func loadThresholdsFile(path string, dst map[string]models.Threshold) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read thresholds file: %w", err)
	}

	var f thresholdsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("failed to parse thresholds file: %w", err)
	}

	for _, t := range f.Thresholds {
		if t.Signal == "" {
			return fmt.Errorf("thresholds file %s: entry without signal", path)
		}
		if t.Low > t.High {
			return fmt.Errorf("thresholds file %s: %s low %.2f above high %.2f", path, t.Signal, t.Low, t.High)
		}
		dst[t.Signal] = t
	}
	return nil
}

// applyThresholdEnv honours THRESHOLD_<SIGNAL>_LOW / _HIGH overrides
func applyThresholdEnv(dst map[string]models.Threshold) {
	for signal, t := range dst {
		key := "THRESHOLD_" + strings.ToUpper(signal)
		t.Low = getEnvFloat(key+"_LOW", t.Low)
		t.High = getEnvFloat(key+"_HIGH", t.High)
		dst[signal] = t
	}
}

func defaultClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "wisefido-vitals"
	}
	return "wisefido-vitals-" + host
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvInts(key string, defaultValue []int) ([]int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, part, err)
		}
		out = append(out, n)
	}
	return out, nil
}
