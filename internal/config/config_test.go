package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wise.yaml")
	content := `
google_client_id: file-id
google_client_secret: file-secret
project: file-project
sample_rows: 7
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WISE_PROJECT", "env-project")
	t.Setenv("WISE_MAX_QUERY_ROWS", "50")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GoogleClientID != "file-id" {
		t.Errorf("GoogleClientID = %q", cfg.GoogleClientID)
	}
	if cfg.Project != "env-project" {
		t.Errorf("env override lost, Project = %q", cfg.Project)
	}
	if cfg.SampleRows != 7 {
		t.Errorf("SampleRows = %d", cfg.SampleRows)
	}
	if cfg.MaxQueryRows != 50 {
		t.Errorf("MaxQueryRows = %d", cfg.MaxQueryRows)
	}
	// Untouched fields fall back to defaults.
	if cfg.Location != DefaultLocation || cfg.GeminiModel != DefaultModel {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != DefaultDBPath || cfg.DataDir != DefaultDataDir {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.SampleRows != DefaultSampleN || cfg.MaxQueryRows != DefaultQueryCap {
		t.Errorf("numeric defaults not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"complete", Config{GoogleClientID: "id", GoogleClientSecret: "secret", Project: "p"}, false},
		{"missing oauth client", Config{Project: "p"}, true},
		{"missing project", Config{GoogleClientID: "id", GoogleClientSecret: "secret"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenURL_Override(t *testing.T) {
	cfg := &Config{}
	if got := cfg.TokenURL(); got != defaultTokenURL {
		t.Errorf("TokenURL = %q", got)
	}
	t.Setenv("WISE_TOKEN_URL", "http://127.0.0.1:9/token")
	if got := cfg.TokenURL(); got != "http://127.0.0.1:9/token" {
		t.Errorf("TokenURL override lost, got %q", got)
	}
}
