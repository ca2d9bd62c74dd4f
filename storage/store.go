// Package storage persists pairing credentials for devices this client has
// paired with.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mediaremote/models"
)

// DefaultDBFileName is the SQLite filename under the app data dir.
const DefaultDBFileName = "devices.db"

// ErrNotFound indicates no stored credentials for a device.
var ErrNotFound = errors.New("storage: device not found")

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS paired_devices (
  device_id               TEXT PRIMARY KEY,
  name                    TEXT NOT NULL,
  credentials             TEXT NOT NULL,
  added_timestamp         INTEGER NOT NULL,
  last_connected_timestamp INTEGER
);
`,
}

// PairedDevice is one stored pairing.
type PairedDevice struct {
	DeviceID      string
	Name          string
	Credentials   models.Credentials
	Added         time.Time
	LastConnected time.Time
}

// Store wraps the credentials database.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the device database under dataDir and
// applies migrations. It returns the store and the database path.
func Open(dataDir string) (*Store, string, error) {
	path := filepath.Join(dataDir, DefaultDBFileName)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("apply migration %d: %w", i, err)
		}
	}

	return &Store{db: db}, path, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveDevice inserts or replaces the stored credentials for a device.
func (s *Store) SaveDevice(deviceID, name string, creds models.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
INSERT INTO paired_devices (device_id, name, credentials, added_timestamp)
VALUES (?, ?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET name = excluded.name, credentials = excluded.credentials;
`, deviceID, name, creds.String(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save device %q: %w", deviceID, err)
	}
	return nil
}

// Credentials loads the stored credentials for a device.
func (s *Store) Credentials(deviceID string) (models.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var serialized string
	err := s.db.QueryRow(`SELECT credentials FROM paired_devices WHERE device_id = ?;`, deviceID).Scan(&serialized)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Credentials{}, ErrNotFound
	}
	if err != nil {
		return models.Credentials{}, fmt.Errorf("load device %q: %w", deviceID, err)
	}
	return models.ParseCredentials(serialized)
}

// TouchLastConnected records a successful connection time.
func (s *Store) TouchLastConnected(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE paired_devices SET last_connected_timestamp = ? WHERE device_id = ?;`,
		time.Now().UnixMilli(), deviceID)
	if err != nil {
		return fmt.Errorf("touch device %q: %w", deviceID, err)
	}
	return nil
}

// Devices lists all stored pairings.
func (s *Store) Devices() ([]PairedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
SELECT device_id, name, credentials, added_timestamp, COALESCE(last_connected_timestamp, 0)
FROM paired_devices ORDER BY added_timestamp;
`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []PairedDevice
	for rows.Next() {
		var d PairedDevice
		var serialized string
		var added, lastConnected int64
		if err := rows.Scan(&d.DeviceID, &d.Name, &serialized, &added, &lastConnected); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		creds, err := models.ParseCredentials(serialized)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", d.DeviceID, err)
		}
		d.Credentials = creds
		d.Added = time.UnixMilli(added)
		if lastConnected > 0 {
			d.LastConnected = time.UnixMilli(lastConnected)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeleteDevice removes a stored pairing.
func (s *Store) DeleteDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM paired_devices WHERE device_id = ?;`, deviceID)
	if err != nil {
		return fmt.Errorf("delete device %q: %w", deviceID, err)
	}
	return nil
}
