package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.tchat/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	Firebase       Firebase `toml:"firebase"`
}

// Firebase holds the connection settings for the hosted backend.
type Firebase struct {
	// APIKey is the web API key used by the Identity Toolkit endpoints.
	APIKey string `toml:"api_key"`
	// ProjectID is the Firebase project id.
	ProjectID string `toml:"project_id"`
	// DatabaseURL is the Realtime Database root, e.g.
	// https://<project>-default-rtdb.firebaseio.com.
	DatabaseURL string `toml:"database_url"`
	// CredentialsFile is an optional service account JSON file. When empty,
	// application default credentials are used.
	CredentialsFile string `toml:"credentials_file"`
}

// Load reads config from the given path and applies TCHAT_* environment
// overrides. A missing file is not an error: an env-only configuration is
// valid (the binaries load .env files before calling Load).
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	cfg.applyEnv()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks that the backend settings required by every network
// operation are present.
func (c *Config) Validate() error {
	if c.Firebase.APIKey == "" {
		return fmt.Errorf("config: firebase.api_key is required (or TCHAT_API_KEY)")
	}
	if c.Firebase.DatabaseURL == "" {
		return fmt.Errorf("config: firebase.database_url is required (or TCHAT_DATABASE_URL)")
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TCHAT_PROFILE"); v != "" {
		c.DefaultProfile = v
	}
	if v := os.Getenv("TCHAT_API_KEY"); v != "" {
		c.Firebase.APIKey = v
	}
	if v := os.Getenv("TCHAT_PROJECT_ID"); v != "" {
		c.Firebase.ProjectID = v
	}
	if v := os.Getenv("TCHAT_DATABASE_URL"); v != "" {
		c.Firebase.DatabaseURL = v
	}
	if v := os.Getenv("TCHAT_CREDENTIALS_FILE"); v != "" {
		c.Firebase.CredentialsFile = v
	}
}
