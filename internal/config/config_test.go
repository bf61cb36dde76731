package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solmeal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Asia/Seoul", cfg.Location().String())

	p := cfg.ClusterParams()
	assert.Equal(t, 3, p.MinGroupSize)
	assert.Equal(t, 0.5, p.WLoc)
	assert.Equal(t, 1.5, p.WPref)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/solmeal/solmeal.db
nats:
  embedded: true
  url: ""
campuses: [3, 4]
cycle:
  interval: 5m
  lookahead_min: 120
cluster:
  max_clusters: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/solmeal/solmeal.db", cfg.Database.Path)
	assert.True(t, cfg.NATS.Embedded)
	assert.Equal(t, []int64{3, 4}, cfg.Campuses)
	assert.Equal(t, 5*time.Minute, cfg.Cycle.Interval)
	assert.Equal(t, 120, cfg.Cycle.LookaheadMin)
	assert.Equal(t, 30, cfg.Cycle.NeedMin, "untouched keys keep defaults")
	assert.Equal(t, 8, cfg.Cluster.MaxClusters)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "backend:\n  base_url: http://file\n")
	t.Setenv("SOLMEAL_BACKEND_BASE_URL", "http://env")
	t.Setenv("SOLMEAL_BACKEND_TIMEOUT", "2s")
	t.Setenv("SOLMEAL_CAMPUSES", "7,8")
	t.Setenv("SOLMEAL_CLUSTER_W_PREF", "2.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env", cfg.Backend.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, []int64{7, 8}, cfg.Campuses)
	assert.Equal(t, 2.5, cfg.Cluster.WPref)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "bogus_key: 1\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "cycle: [\n"))
	require.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"no url without embedded server", func(c *Config) { c.NATS.URL = "" }},
		{"bucket name", func(c *Config) { c.NATS.Bucket = "has.dot" }},
		{"zero replicas", func(c *Config) { c.NATS.Replicas = 0 }},
		{"zero backend timeout", func(c *Config) { c.Backend.Timeout = 0 }},
		{"negative campus", func(c *Config) { c.Campuses = []int64{-1} }},
		{"interval below a minute", func(c *Config) { c.Cycle.Interval = 30 * time.Second }},
		{"need exceeds lookahead", func(c *Config) { c.Cycle.NeedMin = 120 }},
		{"downsample not a divisor", func(c *Config) { c.Cycle.Downsample = 7 }},
		{"unknown timezone", func(c *Config) { c.Cycle.Timezone = "Mars/Olympus" }},
		{"zero min group size", func(c *Config) { c.Cluster.MinGroupSize = 0 }},
		{"negative weight", func(c *Config) { c.Cluster.WLoc = -1 }},
		{"zero batch", func(c *Config) { c.Warmup.BatchSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidate_EmbeddedAllowsEmptyURL(t *testing.T) {
	cfg := Default()
	cfg.NATS.Embedded = true
	cfg.NATS.URL = ""
	require.NoError(t, cfg.Validate())
}
