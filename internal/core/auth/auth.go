// Package auth persists the Blink cloud session. The vendor issues a
// token bound to a client identity (unique_id + device name); keeping
// that identity stable across restarts is what prevents Blink from
// demanding a fresh two-factor verification on every login.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DefaultDeviceName is the client_name/device_identifier reported to the
// vendor on login. It shows up in the Blink app's authorized device list.
const DefaultDeviceName = "BlinkBridge"

// Credentials is the persisted session state for one Blink account.
type Credentials struct {
	Email     string `json:"email"`
	UniqueID  string `json:"unique_id"`
	DeviceID  string `json:"device_id"`
	Token     string `json:"token"`
	AccountID int    `json:"account_id"`
	ClientID  int    `json:"client_id"`
	Tier      string `json:"tier"`
	Host      string `json:"host"`
}

// LoggedIn reports whether the credentials carry a usable session.
func (c Credentials) LoggedIn() bool {
	return c.Token != "" && c.AccountID != 0
}

// Bootstrap prepares the credentials for a login attempt as email.
// The unique_id is generated once and then reused forever so the vendor
// recognizes this client; switching accounts drops the old session but
// keeps the identity.
func (c *Credentials) Bootstrap(email string) {
	if c.Email != email {
		c.Email = email
		c.Token = ""
		c.AccountID = 0
		c.ClientID = 0
		c.Tier = ""
		c.Host = ""
	}
	if c.UniqueID == "" {
		c.UniqueID = uuid.New().String()
	}
	if c.DeviceID == "" {
		c.DeviceID = DefaultDeviceName
	}
}

// Store loads and saves credentials.
type Store interface {
	Load() (Credentials, error)
	Save(Credentials) error
}

// FileStore keeps credentials in a JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the credentials file. A missing file yields zero
// credentials without an error; first login will populate it.
func (s *FileStore) Load() (Credentials, error) {
	var creds Credentials
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return creds, nil
		}
		return creds, fmt.Errorf("auth: read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("auth: parse %s: %w", s.path, err)
	}
	return creds, nil
}

// Save writes the credentials file with owner-only permissions.
func (s *FileStore) Save(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: marshal: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("auth: mkdir %s: %w", dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("auth: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("auth: rename %s: %w", s.path, err)
	}
	return nil
}
