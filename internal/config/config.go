// Package config loads wise settings from an optional yaml file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDBPath    = "wise.db"
	DefaultDataDir   = "project"
	DefaultLocation  = "US"
	DefaultModel     = "gemini-2.0-flash"
	DefaultSampleN   = 3
	DefaultQueryCap  = 1000
	defaultTokenURL  = "https://oauth2.googleapis.com/token"
	defaultConfigExt = "wise.yaml"
)

// Config holds everything the CLI needs: OAuth client identity, the target
// BigQuery project, and local storage locations.
type Config struct {
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	Project            string `yaml:"project"`
	Location           string `yaml:"location"`
	DBPath             string `yaml:"db_path"`
	DataDir            string `yaml:"data_dir"`
	GeminiAPIKey       string `yaml:"gemini_api_key"`
	GeminiModel        string `yaml:"gemini_model"`
	SampleRows         int    `yaml:"sample_rows"`
	MaxQueryRows       int    `yaml:"max_query_rows"`
}

// Load reads the yaml file at path (skipped when missing or empty path),
// applies env overrides, then fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		if _, err := os.Stat(defaultConfigExt); err == nil {
			path = defaultConfigExt
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrideString(&cfg.GoogleClientID, "WISE_GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_ID")
	overrideString(&cfg.GoogleClientSecret, "WISE_GOOGLE_CLIENT_SECRET", "GOOGLE_CLIENT_SECRET")
	overrideString(&cfg.Project, "WISE_PROJECT", "GOOGLE_CLOUD_PROJECT")
	overrideString(&cfg.Location, "WISE_LOCATION")
	overrideString(&cfg.DBPath, "WISE_DB_PATH")
	overrideString(&cfg.DataDir, "WISE_DATA_DIR")
	overrideString(&cfg.GeminiAPIKey, "WISE_GEMINI_API_KEY", "GEMINI_API_KEY")
	overrideString(&cfg.GeminiModel, "WISE_GEMINI_MODEL")
	overrideInt(&cfg.SampleRows, "WISE_SAMPLE_ROWS")
	overrideInt(&cfg.MaxQueryRows, "WISE_MAX_QUERY_ROWS")
}

func applyDefaults(cfg *Config) {
	if cfg.Location == "" {
		cfg.Location = DefaultLocation
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = DefaultModel
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = DefaultSampleN
	}
	if cfg.MaxQueryRows <= 0 {
		cfg.MaxQueryRows = DefaultQueryCap
	}
}

// TokenURL returns the OAuth token endpoint, overridable for tests.
func (c *Config) TokenURL() string {
	if v := os.Getenv("WISE_TOKEN_URL"); v != "" {
		return v
	}
	return defaultTokenURL
}

// Validate checks the fields required before any remote call.
func (c *Config) Validate() error {
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		return fmt.Errorf("google_client_id and google_client_secret are required (set WISE_GOOGLE_CLIENT_ID / WISE_GOOGLE_CLIENT_SECRET)")
	}
	if c.Project == "" {
		return fmt.Errorf("project is required (set WISE_PROJECT or --project)")
	}
	return nil
}

func overrideString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
