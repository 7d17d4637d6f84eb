package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.WorkerCount)
	assert.Equal(t, 5*time.Minute, cfg.SLA.Critical)
	assert.Equal(t, 2*time.Hour, cfg.SLA.High)
	assert.Equal(t, 24*time.Hour, cfg.SLA.Medium)
	assert.Equal(t, 2*time.Hour, cfg.Engine.AutoResolveGrace)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("SLA_CRITICAL", "2m")
	t.Setenv("OBSERVATIONS_DB_TYPE", "mssql")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("OBSERVATIONS_ALLOWED_TABLES", "metric_observations,enrollments")
	t.Setenv("OBSERVATIONS_MAX_ROWS", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Engine.WorkerCount)
	assert.Equal(t, 2*time.Minute, cfg.SLA.Critical)
	assert.Equal(t, "mssql", cfg.Observations.Type)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"metric_observations", "enrollments"}, cfg.Observations.AllowedTables)
	assert.Equal(t, 50, cfg.Observations.Limits().MaxSampleRows)
	assert.Equal(t, 45*24*time.Hour, cfg.Observations.Limits().MaxLookback)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("WORKER_COUNT", "0")
	t.Setenv("OBSERVATIONS_DB_TYPE", "oracle")
	t.Setenv("ENGINE_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_COUNT")
	assert.Contains(t, err.Error(), "oracle")
	assert.Contains(t, err.Error(), "ENGINE_TIMEZONE")
}
