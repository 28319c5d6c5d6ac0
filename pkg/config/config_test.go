package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.Search.DefaultLimit)
	assert.Equal(t, 5000, cfg.Search.ParallelThreshold)
	assert.Equal(t, 4, cfg.Search.Partitions)
	assert.Equal(t, 200, cfg.Search.IntersectSkipCandidates)
	assert.Equal(t, 50, cfg.Search.IntersectSkipRatio)
	assert.Equal(t, 5000, cfg.Search.UnionBreadthCap)
	assert.Len(t, cfg.Data.Sources, 3)
	assert.Equal(t, filepath.Join("seed", "school_data.csv"), cfg.Data.CSVPath())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
server:
  port: 9999
search:
  defaultLimit: 5
  maxResults: 50
data:
  dir: /var/lib/schools
  csvFile: merged.csv
redis:
  enabled: true
  cacheTTL: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.Equal(t, 50, cfg.Search.MaxResults)
	assert.Equal(t, 4, cfg.Search.Partitions, "untouched fields keep defaults")
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, "/var/lib/schools/merged.csv", cfg.Data.CSVPath())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8123")
	t.Setenv("SP_STORAGE_DRIVER", "postgres")
	t.Setenv("SP_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SP_ADMIN_KEYS", "a,b")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"a", "b"}, cfg.Auth.AdminKeys)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "storage:\n  driver: mongo\n"},
		{"zero partitions", "search:\n  partitions: 0\n"},
		{"max below default", "search:\n  defaultLimit: 10\n  maxResults: 5\n"},
		{"zero batch", "data:\n  loadBatchSize: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDevelopmentConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "development.yaml"))

	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.True(t, cfg.RPC.Enabled)
	assert.Equal(t, 3, cfg.Search.DefaultLimit)
	assert.Len(t, cfg.Data.Sources, 3)
	assert.Equal(t, time.Minute, cfg.Analytics.SnapshotInterval)
}
