package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultProfile: "work",
		Firebase: Firebase{
			APIKey:      "key123",
			ProjectID:   "demo-project",
			DatabaseURL: "https://demo-project-default-rtdb.firebaseio.com",
		},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Firebase.DatabaseURL != cfg.Firebase.DatabaseURL {
		t.Errorf("DatabaseURL = %q, want %q", loaded.Firebase.DatabaseURL, cfg.Firebase.DatabaseURL)
	}
}

func TestLoadMissingFileIsEnvOnly(t *testing.T) {
	t.Setenv("TCHAT_API_KEY", "env-key")
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v, want env-only fallback", err)
	}
	if cfg.Firebase.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Firebase.APIKey)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := Save(path, &Config{Firebase: Firebase{APIKey: "file-key"}}); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TCHAT_API_KEY", "env-key")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Firebase.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key (env wins)", cfg.Firebase.APIKey)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for empty config")
	}
	cfg.Firebase.APIKey = "k"
	cfg.Firebase.DatabaseURL = "https://x.firebaseio.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
