package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration. Every field has a default; the
// YAML file and environment variables only override.
type Config struct {
	S3       S3Config       `yaml:"s3"`
	Geo      GeoConfig      `yaml:"geo"`
	Enrich   EnrichConfig   `yaml:"enrich"`
	Features FeaturesConfig `yaml:"features"`
	Output   OutputConfig   `yaml:"output"`
}

type S3Config struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type GeoConfig struct {
	CachePath string  `yaml:"cache_path"`
	BaseURL   string  `yaml:"base_url"`
	LookupRPS float64 `yaml:"lookup_rps"`
}

type EnrichConfig struct {
	HealthCheckAgents []string `yaml:"health_check_agents"`
}

type FeaturesConfig struct {
	SessionGapMinutes         int `yaml:"session_gap_minutes"`
	RollingCountWindowMinutes int `yaml:"rolling_count_window_minutes"`
	RollingAvgWindowMinutes   int `yaml:"rolling_avg_window_minutes"`
}

type OutputConfig struct {
	CleanedDir    string `yaml:"cleaned_dir"`
	AggregatesDir string `yaml:"aggregates_dir"`
	ReportsDir    string `yaml:"reports_dir"`
	ManifestPath  string `yaml:"manifest_path"`
}

// SessionGap returns the sessionization gap as a duration.
func (f FeaturesConfig) SessionGap() time.Duration {
	return time.Duration(f.SessionGapMinutes) * time.Minute
}

func (f FeaturesConfig) RollingCountWindow() time.Duration {
	return time.Duration(f.RollingCountWindowMinutes) * time.Minute
}

func (f FeaturesConfig) RollingAvgWindow() time.Duration {
	return time.Duration(f.RollingAvgWindowMinutes) * time.Minute
}

// LoadConfig reads the configuration from the given path. A missing file is
// not an error; defaults and environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
		} else {
			defer f.Close()
			decoder := yaml.NewDecoder(f)
			if err := decoder.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyEnv lets the AWS-side settings come from the environment, so the same
// config file works across accounts.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3.Bucket = v
	}
	if v := os.Getenv("S3_PREFIX"); v != "" {
		cfg.S3.Prefix = v
	}
}

// applyDefaults fills every unset field.
func applyDefaults(cfg *Config) {
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.Geo.CachePath == "" {
		cfg.Geo.CachePath = "geolocation_cache.db"
	}
	if cfg.Geo.LookupRPS == 0 {
		// ip-api.com free tier allows 45 req/min.
		cfg.Geo.LookupRPS = 0.75
	}
	if cfg.Features.SessionGapMinutes == 0 {
		cfg.Features.SessionGapMinutes = 30
	}
	if cfg.Features.RollingCountWindowMinutes == 0 {
		cfg.Features.RollingCountWindowMinutes = 5
	}
	if cfg.Features.RollingAvgWindowMinutes == 0 {
		cfg.Features.RollingAvgWindowMinutes = 60
	}
	if cfg.Output.CleanedDir == "" {
		cfg.Output.CleanedDir = "output/cleaned_logs"
	}
	if cfg.Output.AggregatesDir == "" {
		cfg.Output.AggregatesDir = "output/aggregated_stats"
	}
	if cfg.Output.ReportsDir == "" {
		cfg.Output.ReportsDir = "output/reports"
	}
	if cfg.Output.ManifestPath == "" {
		cfg.Output.ManifestPath = "output/run_manifest.jsonl"
	}
}
