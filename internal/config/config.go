package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API struct {
		BaseURL        string  `yaml:"base_url"`
		Token          string  `yaml:"token"`
		WorkspaceID    string  `yaml:"workspace_id"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		WriteRPS       float64 `yaml:"write_rps"`
		WriteBurst     int     `yaml:"write_burst"`
	} `yaml:"api"`

	Redis struct {
		Enabled         bool   `yaml:"enabled"`
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Autosave struct {
		DebounceMs           int `yaml:"debounce_ms"`
		RemoteTimeoutSeconds int `yaml:"remote_timeout_seconds"`
	} `yaml:"autosave"`

	Audit struct {
		Enabled       bool   `yaml:"enabled"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
		ExportDir     string `yaml:"export_dir"`
		BackupDir     string `yaml:"backup_dir"`
	} `yaml:"audit"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = "data/settings_audit.db"
	}
	if cfg.Audit.ExportDir == "" {
		cfg.Audit.ExportDir = "data/exports"
	}
	if cfg.Audit.BackupDir == "" {
		cfg.Audit.BackupDir = "data/backups"
	}

	return &cfg, nil
}

// APITimeout is the HTTP transport cap. It must stay above RemoteTimeout or
// the per-call budget is cut short at the connection.
func (c *Config) APITimeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c *Config) DebounceInterval() time.Duration {
	if c.Autosave.DebounceMs <= 0 {
		return time.Second
	}
	return time.Duration(c.Autosave.DebounceMs) * time.Millisecond
}

func (c *Config) RemoteTimeout() time.Duration {
	if c.Autosave.RemoteTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Autosave.RemoteTimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) AuditRetention() time.Duration {
	if c.Audit.RetentionDays <= 0 {
		return 90 * 24 * time.Hour
	}
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
}
