package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "flows/workflow.yaml", cfg.WorkflowPath)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("STEPWEAVE_ADDR", "127.0.0.1:9090")
	t.Setenv("STEPWEAVE_WORKFLOW", "flows/other.yaml")
	t.Setenv("STEPWEAVE_PROVIDER_TIMEOUT", "5s")
	t.Setenv("STEPWEAVE_DATABASE_URL", "postgres://app@db.internal/stepweave")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr)
	assert.Equal(t, "flows/other.yaml", cfg.WorkflowPath)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "postgres://app@db.internal/stepweave", cfg.DatabaseURL)
}

func TestLoadConfigRejectsBadAddr(t *testing.T) {
	t.Setenv("STEPWEAVE_ADDR", "no-port")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Addr")
}

func TestLoadConfigRejectsBadTimeout(t *testing.T) {
	t.Setenv("STEPWEAVE_PROVIDER_TIMEOUT", "soon")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadDSN(t *testing.T) {
	t.Setenv("STEPWEAVE_DATABASE_URL", "not a dsn")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatabaseURL")
}
