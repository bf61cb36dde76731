// Package config loads solmeal configuration: defaults, then an optional
// YAML file, then SOLMEAL_* environment variables, validated against an
// embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/solmeal/internal/cluster"
	"github.com/roach88/solmeal/internal/slots"
)

//go:embed schema.cue
var schemaSrc string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOLMEAL_"

// ErrInvalid is returned when the merged configuration violates the schema.
var ErrInvalid = errors.New("invalid config")

// Config is the full service configuration.
type Config struct {
	Database Database `yaml:"database" json:"database" envPrefix:"DATABASE_"`
	NATS     NATS     `yaml:"nats" json:"nats" envPrefix:"NATS_"`
	Backend  Backend  `yaml:"backend" json:"backend" envPrefix:"BACKEND_"`
	Campuses []int64  `yaml:"campuses" json:"campuses" env:"CAMPUSES" envSeparator:","`
	Cycle    Cycle    `yaml:"cycle" json:"cycle" envPrefix:"CYCLE_"`
	Cluster  Cluster  `yaml:"cluster" json:"cluster" envPrefix:"CLUSTER_"`
	Warmup   Warmup   `yaml:"warmup" json:"warmup" envPrefix:"WARMUP_"`
	Metrics  Metrics  `yaml:"metrics" json:"metrics" envPrefix:"METRICS_"`
}

// Database locates the SQLite file.
type Database struct {
	Path string `yaml:"path" json:"path" env:"PATH"`
}

// NATS configures the snapshot cache.
type NATS struct {
	// Embedded starts an in-process JetStream server instead of dialing URL.
	Embedded   bool   `yaml:"embedded" json:"embedded" env:"EMBEDDED"`
	URL        string `yaml:"url" json:"url" env:"URL"`
	Bucket     string `yaml:"bucket" json:"bucket" env:"BUCKET"`
	Replicas   int    `yaml:"replicas" json:"replicas" env:"REPLICAS"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
}

// Backend configures the upstream HTTP API. An empty BaseURL selects the
// in-memory stub.
type Backend struct {
	BaseURL string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	APIKey  string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// Cycle configures the scheduled cycle.
type Cycle struct {
	Interval     time.Duration `yaml:"interval" json:"interval" env:"INTERVAL"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	Timezone     string        `yaml:"timezone" json:"timezone" env:"TIMEZONE"`
	Algo         string        `yaml:"algo" json:"algo" env:"ALGO"`
	LookaheadMin int           `yaml:"lookahead_min" json:"lookahead_min" env:"LOOKAHEAD_MIN"`
	NeedMin      int           `yaml:"need_min" json:"need_min" env:"NEED_MIN"`
	Downsample   int           `yaml:"downsample" json:"downsample" env:"DOWNSAMPLE"`
}

// Cluster holds the clustering parameters.
type Cluster struct {
	MinGroupSize int     `yaml:"min_group_size" json:"min_group_size" env:"MIN_GROUP_SIZE"`
	KMin         int     `yaml:"k_min" json:"k_min" env:"K_MIN"`
	MaxClusters  int     `yaml:"max_clusters" json:"max_clusters" env:"MAX_CLUSTERS"`
	Seed         int64   `yaml:"seed" json:"seed" env:"SEED"`
	WLoc         float64 `yaml:"w_loc" json:"w_loc" env:"W_LOC"`
	WPref        float64 `yaml:"w_pref" json:"w_pref" env:"W_PREF"`
	WTime        float64 `yaml:"w_time" json:"w_time" env:"W_TIME"`
}

// Warmup configures cache warmup batching.
type Warmup struct {
	BatchSize int `yaml:"batch_size" json:"batch_size" env:"BATCH_SIZE"`
	PageSize  int `yaml:"page_size" json:"page_size" env:"PAGE_SIZE"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: Database{Path: "solmeal.db"},
		NATS: NATS{
			URL:        "nats://127.0.0.1:4222",
			Bucket:     "solmeal-snapshots",
			Replicas:   1,
			MaxRetries: 3,
		},
		Backend:  Backend{Timeout: 5 * time.Second},
		Campuses: []int64{1},
		Cycle: Cycle{
			Interval:     10 * time.Minute,
			Timeout:      5 * time.Minute,
			Timezone:     "Asia/Seoul",
			Algo:         "kmeans-v1",
			LookaheadMin: 90,
			NeedMin:      30,
			Downsample:   6,
		},
		Cluster: Cluster{
			MinGroupSize: 3,
			KMin:         2,
			Seed:         42,
			WLoc:         0.5,
			WPref:        1.5,
			WTime:        1.0,
		},
		Warmup: Warmup{BatchSize: 2000, PageSize: 5000},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML overlays data onto cfg. Unknown keys are rejected.
func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration against the embedded schema and
// resolves the timezone.
func (c *Config) Validate() error {
	if c.Campuses == nil {
		c.Campuses = []int64{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	// Durations travel as integer nanoseconds through JSON.
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	doc := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}

	if slots.SlotsPerDay%max(1, c.Cycle.Downsample) != 0 {
		return fmt.Errorf("%w: cycle.downsample %d does not divide %d", ErrInvalid, c.Cycle.Downsample, slots.SlotsPerDay)
	}
	if _, err := time.LoadLocation(c.Cycle.Timezone); err != nil {
		return fmt.Errorf("%w: cycle.timezone: %v", ErrInvalid, err)
	}
	return nil
}

// Location returns the campus timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Cycle.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ClusterParams converts the cluster section.
func (c *Config) ClusterParams() cluster.Params {
	return cluster.Params{
		MinGroupSize: c.Cluster.MinGroupSize,
		KMin:         c.Cluster.KMin,
		MaxClusters:  c.Cluster.MaxClusters,
		Seed:         c.Cluster.Seed,
		WLoc:         c.Cluster.WLoc,
		WPref:        c.Cluster.WPref,
		WTime:        c.Cluster.WTime,
	}
}
