package prefs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Well-known keys. Values are opaque JSON blobs owned by their writers.
const (
	// KeyUser caches the last-known identity across restarts.
	KeyUser = "user"
	// KeySession caches the provider session tokens for restore.
	KeySession = "session"
	// KeyPreferences holds the serialized UI preferences.
	KeyPreferences = "userPreferences"
)

// Get returns the blob stored under key, or nil when absent.
func (db *DB) Get(key string) ([]byte, error) {
	var value []byte
	err := db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prefs get %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous blob.
func (db *DB) Set(key string, value []byte) error {
	_, err := db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("prefs set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (db *DB) Delete(key string) error {
	if _, err := db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("prefs delete %q: %w", key, err)
	}
	return nil
}

// Preferences are the user-tunable UI settings persisted under
// KeyPreferences.
type Preferences struct {
	DarkMode      bool `json:"darkMode"`
	Notifications bool `json:"notifications"`
}

// DefaultPreferences returns the out-of-the-box settings.
func DefaultPreferences() Preferences {
	return Preferences{DarkMode: true, Notifications: true}
}

// LoadPreferences reads stored preferences, falling back to defaults for a
// fresh profile or an unreadable blob.
func (db *DB) LoadPreferences() (Preferences, error) {
	p := DefaultPreferences()
	blob, err := db.Get(KeyPreferences)
	if err != nil {
		return p, err
	}
	if blob == nil {
		return p, nil
	}
	if err := json.Unmarshal(blob, &p); err != nil {
		return DefaultPreferences(), fmt.Errorf("decode preferences: %w", err)
	}
	return p, nil
}

// SavePreferences persists the given preferences.
func (db *DB) SavePreferences(p Preferences) error {
	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	return db.Set(KeyPreferences, blob)
}
