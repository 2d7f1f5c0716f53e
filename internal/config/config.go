package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the risk engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Cache       CacheConfig       `yaml:"cache"`
	Logging     LoggingConfig     `yaml:"logging"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// DatabaseConfig configures the Postgres alarm store.
type DatabaseConfig struct {
	DSN          string        `yaml:"dsn"`
	Table        string        `yaml:"table"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
}

// MaintenanceConfig configures the external maintenance-record API.
type MaintenanceConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	RecordsPath string        `yaml:"recordsPath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CacheConfig controls Valkey-backed caching of analysis snapshots.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	TLS          bool          `yaml:"tls"`
	SnapshotTTL  time.Duration `yaml:"snapshotTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AnalysisConfig holds the domain parameters of the survival pipeline.
type AnalysisConfig struct {
	SeverityThreshold int               `yaml:"severityThreshold"`
	RiskThreshold     float64           `yaml:"riskThreshold"`
	HorizonHours      float64           `yaml:"horizonHours"`
	CycleInterval     time.Duration     `yaml:"cycleInterval"`
	LookbackDays      int               `yaml:"lookbackDays"`
	SamplePoints      int               `yaml:"samplePoints"`
	Trees             int               `yaml:"trees"`
	Seed              int64             `yaml:"seed"`
	SerialMap         map[string]string `yaml:"serialMap"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CRAC_RISK_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Table:        "crac_alarms",
			QueryTimeout: 30 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			RecordsPath: "/api/v1/maintenance/records",
			Timeout:     5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			SnapshotTTL:  10 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Analysis: AnalysisConfig{
			SeverityThreshold: 6,
			RiskThreshold:     0.8,
			HorizonHours:      5000,
			CycleInterval:     10 * time.Minute,
			LookbackDays:      180,
			SamplePoints:      500,
			Trees:             250,
			Seed:              42,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Analysis.RiskThreshold <= 0 || cfg.Analysis.RiskThreshold > 1 {
		return fmt.Errorf("analysis.riskThreshold must be in (0,1], got %v", cfg.Analysis.RiskThreshold)
	}
	if cfg.Analysis.HorizonHours <= 0 {
		return fmt.Errorf("analysis.horizonHours must be positive, got %v", cfg.Analysis.HorizonHours)
	}
	if cfg.Analysis.SamplePoints < 2 {
		return fmt.Errorf("analysis.samplePoints must be at least 2, got %d", cfg.Analysis.SamplePoints)
	}
	if cfg.Analysis.Trees <= 0 {
		return fmt.Errorf("analysis.trees must be positive, got %d", cfg.Analysis.Trees)
	}
	if cfg.Analysis.LookbackDays <= 0 {
		return fmt.Errorf("analysis.lookbackDays must be positive, got %d", cfg.Analysis.LookbackDays)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CRAC_RISK_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CRAC_RISK_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("CRAC_RISK_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CRAC_RISK_DB_TABLE"); v != "" {
		cfg.Database.Table = v
	}
	if v := os.Getenv("CRAC_RISK_MAINTENANCE_URL"); v != "" {
		cfg.Maintenance.BaseURL = v
	}
	if v := os.Getenv("CRAC_RISK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CRAC_RISK_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("CRAC_RISK_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("CRAC_RISK_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("CRAC_RISK_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("CRAC_RISK_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("CRAC_RISK_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("CRAC_RISK_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("CRAC_RISK_SEVERITY_THRESHOLD"); v != "" {
		if thr, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.SeverityThreshold = thr
		}
	}
	if v := os.Getenv("CRAC_RISK_RISK_THRESHOLD"); v != "" {
		if thr, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.RiskThreshold = thr
		}
	}
	if v := os.Getenv("CRAC_RISK_HORIZON_HOURS"); v != "" {
		if h, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.HorizonHours = h
		}
	}
	if v := os.Getenv("CRAC_RISK_CYCLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analysis.CycleInterval = d
		}
	}
	if v := os.Getenv("CRAC_RISK_LOOKBACK_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.LookbackDays = days
		}
	}
}
