package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "vitals",
		Password: "secret",
		Database: "vitals",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=db port=5432 user=vitals password=secret dbname=vitals sslmode=disable", cfg.GetDSN())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DB_HOST", "pg.local")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_QOS", "1")

	db := DatabaseConfig{Host: "localhost", Port: 5432}
	db.LoadFromEnv("DB")
	assert.Equal(t, "pg.local", db.Host)
	assert.Equal(t, 6543, db.Port)

	rc := RedisConfig{Addr: "localhost:6379"}
	rc.LoadFromEnv("REDIS")
	assert.Equal(t, "cache:6380", rc.Addr)
	assert.Equal(t, 2, rc.DB)

	mc := MQTTConfig{Broker: "tcp://localhost:1883"}
	mc.LoadFromEnv("MQTT")
	assert.Equal(t, "tcp://broker:1883", mc.Broker)
	assert.Equal(t, byte(1), mc.QoS)
}

func TestLoadFromEnv_MalformedNumbers(t *testing.T) {
	t.Setenv("DB_PORT", "fivefour")
	t.Setenv("DB_CONN_MAX_LIFETIME", "10m")

	db := DatabaseConfig{Port: 5432}
	err := db.LoadFromEnv("DB")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PORT")
	assert.Equal(t, 5432, db.Port, "malformed value must not clobber the default")
	assert.Equal(t, 10*time.Minute, db.ConnMaxLifetime)

	t.Setenv("REDIS_DB", "1.5")
	rc := RedisConfig{}
	assert.Error(t, rc.LoadFromEnv("REDIS"))
}

func TestValidate(t *testing.T) {
	valid := DatabaseConfig{Host: "db", Port: 5432, Database: "vitals", MaxConns: 10, MaxIdle: 5}
	require.NoError(t, valid.Validate())

	badPort := valid
	badPort.Port = 0
	assert.Error(t, badPort.Validate())

	idle := valid
	idle.MaxIdle = 20
	assert.Error(t, idle.Validate())

	assert.NoError(t, (&RedisConfig{Addr: "cache:6379", DB: 3}).Validate())
	assert.Error(t, (&RedisConfig{Addr: "", DB: 0}).Validate())

	assert.NoError(t, (&MQTTConfig{Broker: "tcp://broker:1883", ClientID: "hub", QoS: 1}).Validate())
	assert.Error(t, (&MQTTConfig{Broker: "broker", ClientID: "hub"}).Validate())
	assert.Error(t, (&MQTTConfig{Broker: "tcp://broker:1883"}).Validate())
}
