package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig Postgres connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// RedisConfig Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig broker connection settings
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// GetDSN builds the lib/pq connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv overrides fields from <prefix>_* variables; malformed numbers are errors
func (c *DatabaseConfig) LoadFromEnv(prefix string) error {
	env := envReader{prefix: prefix}
	env.str("HOST", &c.Host)
	env.integer("PORT", &c.Port)
	env.str("USER", &c.User)
	env.str("PASSWORD", &c.Password)
	env.str("NAME", &c.Database)
	env.str("SSLMODE", &c.SSLMode)
	env.integer("MAX_CONNS", &c.MaxConns)
	env.integer("MAX_IDLE", &c.MaxIdle)
	env.duration("CONN_MAX_LIFETIME", &c.ConnMaxLifetime)
	return env.err
}

// Validate rejects settings lib/pq or database/sql would misread
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("database port %d out of range", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database name is empty")
	}
	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return fmt.Errorf("database pool sizes must not be negative (max_conns=%d, max_idle=%d)", c.MaxConns, c.MaxIdle)
	}
	if c.MaxConns > 0 && c.MaxIdle > c.MaxConns {
		return fmt.Errorf("database max_idle %d exceeds max_conns %d", c.MaxIdle, c.MaxConns)
	}
	return nil
}

// LoadFromEnv overrides fields from <prefix>_* variables
func (c *RedisConfig) LoadFromEnv(prefix string) error {
	env := envReader{prefix: prefix}
	env.str("ADDR", &c.Addr)
	env.str("PASSWORD", &c.Password)
	env.integer("DB", &c.DB)
	return env.err
}

func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis address is empty")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis db %d is negative", c.DB)
	}
	return nil
}

// LoadFromEnv overrides fields from <prefix>_* variables
func (c *MQTTConfig) LoadFromEnv(prefix string) error {
	env := envReader{prefix: prefix}
	env.str("BROKER", &c.Broker)
	env.str("CLIENT_ID", &c.ClientID)
	env.str("USERNAME", &c.Username)
	env.str("PASSWORD", &c.Password)
	qos := int(c.QoS)
	env.integer("QOS", &qos)
	c.QoS = byte(qos)
	if qos < 0 || qos > 2 {
		env.fail(fmt.Errorf("%s_QOS: %d is not 0, 1 or 2", prefix, qos))
	}
	env.duration("KEEPALIVE", &c.KeepAlive)
	env.duration("CONNECT_TIMEOUT", &c.ConnectTimeout)
	return env.err
}

func (c *MQTTConfig) Validate() error {
	u, err := url.Parse(c.Broker)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("mqtt broker %q is not a scheme://host:port URL", c.Broker)
	}
	if c.ClientID == "" {
		return fmt.Errorf("mqtt client id is empty")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos %d is not 0, 1 or 2", c.QoS)
	}
	return nil
}

// envReader collects the first parse error so callers check once
type envReader struct {
	prefix string
	err    error
}

func (r *envReader) lookup(key string) (string, bool) {
	v := os.Getenv(r.prefix + "_" + key)
	return v, v != ""
}

func (r *envReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		*dst = v
	}
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(fmt.Errorf("%s_%s: invalid integer %q", r.prefix, key, v))
		return
	}
	*dst = n
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(fmt.Errorf("%s_%s: invalid duration %q", r.prefix, key, v))
		return
	}
	*dst = d
}
