package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("SESSION_STORE", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("EVICTION_IDLE_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8989", cfg.ServerPort)
	assert.Equal(t, ":8989", cfg.Addr())
	assert.Equal(t, StoreMemory, cfg.SessionStore)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Equal(t, time.Duration(0), cfg.EvictionIdleTTL)
	assert.Equal(t, "http://localhost:5173/session/", cfg.PublicSessionURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("SESSION_STORE", "Redis")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test ,")
	t.Setenv("EVICTION_IDLE_TTL", "10m")
	t.Setenv("EVICTION_INTERVAL", "30s")
	t.Setenv("SEND_BUFFER", "16")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, StoreRedis, cfg.SessionStore)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Minute, cfg.EvictionIdleTTL)
	assert.Equal(t, 30*time.Second, cfg.EvictionInterval)
	assert.Equal(t, 16, cfg.SendBuffer)
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("SESSION_STORE", "cassandra")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestValidate(t *testing.T) {
	base := Config{SessionStore: StoreMemory, SendBuffer: 1, PublicSessionURL: "http://x/"}
	require.NoError(t, base.Validate())

	bad := base
	bad.SendBuffer = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.EvictionIdleTTL = time.Minute
	bad.EvictionInterval = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.PublicSessionURL = ""
	assert.Error(t, bad.Validate())
}

func TestDatabaseURL(t *testing.T) {
	cfg := Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p", DBName: "n", DBSSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", cfg.DatabaseURL())
}
