package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.BackendURL)
	assert.Equal(t, 3*time.Second, cfg.RidePollInterval)
	assert.Equal(t, 3*time.Second, cfg.RequestPollInterval)
	assert.Equal(t, 10*time.Second, cfg.DriverNotificationInterval)
	assert.Equal(t, 15*time.Second, cfg.RiderNotificationInterval)
	assert.Equal(t, 10, cfg.NotificationWindow)
	assert.Equal(t, 5.0, cfg.FallbackDistanceKm)
	assert.False(t, cfg.AllowOverlappingPolls)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://carpool.example/ ")
	t.Setenv("POLL_RIDE_INTERVAL", "5s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "https://carpool.example", cfg.BackendURL)
	assert.Equal(t, 5*time.Second, cfg.RidePollInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadCollectsErrors(t *testing.T) {
	t.Setenv("POLL_RIDE_INTERVAL", "soon")
	t.Setenv("NOTIFICATION_WINDOW", "0")

	_, err := load(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid POLL_RIDE_INTERVAL")
	assert.Contains(t, err.Error(), "POLL_RIDE_INTERVAL must be > 0")
	assert.Contains(t, err.Error(), "NOTIFICATION_WINDOW must be > 0")
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("POLL_EARNINGS_INTERVAL: 30s\nNEARBY_RADIUS_KM: 3.5\n"), 0o600))
	t.Setenv("CARPOOL_CONFIG", path)

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.EarningsInterval)
	assert.Equal(t, 3.5, cfg.NearbyRadiusKm)
}
