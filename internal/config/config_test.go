package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.PendingTTL)
	assert.Equal(t, "checkout-events", cfg.KafkaTopic)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileAfter)
}

func TestLoad_FromEnvFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	unsetForTest(t, "HTTP_PORT", "KAFKA_BROKERS", "CART_PENDING_TTL", "ORDER_SERVICE_URL")

	path := filepath.Join(t.TempDir(), "test.env")
	content := "HTTP_PORT=9090\nKAFKA_BROKERS=k1:9092, k2:9092\nCART_PENDING_TTL=2s\nORDER_SERVICE_URL=http://orders/\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Second, cfg.PendingTTL)
	assert.Equal(t, "http://orders", cfg.OrderServiceURL)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_PORT", "not-a-port")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "invalid DB_PORT")

	t.Setenv("DB_PORT", "5432")
	t.Setenv("REQUEST_TIMEOUT", "soon")
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "invalid REQUEST_TIMEOUT")
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "JWT_SECRET")
}

// godotenv never overrides variables that are already set; t.Setenv restores them afterwards.
func unsetForTest(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}
