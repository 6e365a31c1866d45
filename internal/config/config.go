// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"migbench/internal/migration"
)

// General identifies one benchmark run and where its results go.
type General struct {
	RunID      string `yaml:"run_id"`
	ResultsDir string `yaml:"results_dir"`
}

// Clients configures the load generator fleet.
type Clients struct {
	Count        int     `yaml:"count"`
	RateHz       float64 `yaml:"rate_hz"`
	PayloadBytes int     `yaml:"payload_bytes"`
	TimeoutMS    int     `yaml:"timeout_ms"`
}

// Network holds impairment parameters. They shape the environment the
// benchmark runs in; the core does not apply them itself.
type Network struct {
	LatencyMS int     `yaml:"latency_ms"`
	JitterMS  int     `yaml:"jitter_ms"`
	LossPct   float64 `yaml:"loss_pct"`
}

// Migration selects and tunes the migration strategy.
type Migration struct {
	Strategy      string  `yaml:"strategy"`
	DelayS        float64 `yaml:"delay_s"`
	PostcopySyncS float64 `yaml:"postcopy_sync_s"`
	DestPreboot   *bool   `yaml:"dest_preboot"`
}

// Servers configures the replica containers and the benchmark network.
type Servers struct {
	ServiceAlias string `yaml:"service_alias"`
	Port         int    `yaml:"port"`
	ImageServer  string `yaml:"image_server"`
	ImageClient  string `yaml:"image_client"`
	NetworkName  string `yaml:"network_name"`
}

// Sweep lists client payload sizes for repeated runs.
type Sweep struct {
	PayloadSizes []int `yaml:"payload_sizes"`
}

// Config is the root benchmark configuration.
type Config struct {
	General   General   `yaml:"general"`
	Clients   Clients   `yaml:"clients"`
	Network   Network   `yaml:"network"`
	Migration Migration `yaml:"migration"`
	Servers   Servers   `yaml:"servers"`
	Sweep     Sweep     `yaml:"sweep"`
}

// PrebootDestination reports whether the destination replica is started
// before the migration begins. Defaults to true.
func (c *Config) PrebootDestination() bool {
	return c.Migration.DestPreboot == nil || *c.Migration.DestPreboot
}

// Load reads and validates a benchmark configuration. When schemaPath is
// non-empty the file is validated against the CUE schema first.
func Load(configPath, schemaPath string) (*Config, error) {
	if schemaPath != "" {
		if err := ValidateWithCue(configPath, schemaPath); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		General: General{ResultsDir: "results"},
		Clients: Clients{TimeoutMS: 800},
		Migration: Migration{
			PostcopySyncS: 5.0,
		},
		Servers: Servers{
			ServiceAlias: "service",
			Port:         5000,
			ImageServer:  "migbench/server:latest",
			ImageClient:  "migbench/client:latest",
			NetworkName:  "bench_net",
		},
	}
}

// Validate rejects configurations the benchmark cannot run. An unknown
// strategy is fatal here, before any container is started.
func (c *Config) Validate() error {
	if c.General.RunID == "" {
		return fmt.Errorf("general.run_id is required")
	}
	if c.Clients.Count <= 0 {
		return fmt.Errorf("clients.count must be > 0")
	}
	if c.Clients.RateHz <= 0 {
		return fmt.Errorf("clients.rate_hz must be > 0")
	}
	if c.Clients.PayloadBytes < 0 {
		return fmt.Errorf("clients.payload_bytes must be >= 0")
	}
	if _, err := migration.ParseStrategy(c.Migration.Strategy); err != nil {
		return fmt.Errorf("migration.strategy: %w", err)
	}
	if c.Migration.DelayS < 0 {
		return fmt.Errorf("migration.delay_s must be >= 0")
	}
	if c.Migration.PostcopySyncS < 0 {
		return fmt.Errorf("migration.postcopy_sync_s must be >= 0")
	}
	for _, size := range c.Sweep.PayloadSizes {
		if size <= 0 {
			return fmt.Errorf("sweep.payload_sizes entries must be > 0")
		}
	}
	return nil
}
