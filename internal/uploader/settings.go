package uploader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

const (
	settingsDirPerm  = 0o755
	settingsFilePerm = 0o600
)

// Stored is the persisted uploader configuration.
type Stored struct {
	APIKey            string   `toml:"api_key"`
	AutoUpload        bool     `toml:"auto_upload"`
	DeleteAfterUpload bool     `toml:"delete_after_upload"`
	Upload            Settings `toml:"upload"`
}

// SettingsStore keeps Stored in a TOML file.
type SettingsStore struct {
	path string
	mu   sync.Mutex
}

// NewSettingsStore creates a store backed by path.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Path returns the backing file.
func (s *SettingsStore) Path() string {
	return s.path
}

// Load decodes the file over defaults. A missing file returns defaults unchanged.
func (s *SettingsStore) Load(defaults Stored) (Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := defaults

	_, err := toml.DecodeFile(s.path, &out)
	if errors.Is(err, fs.ErrNotExist) {
		return defaults, nil
	}

	if err != nil {
		return defaults, fmt.Errorf("decode %s: %w", s.path, err)
	}

	return out, nil
}

// Save writes st atomically. The file holds the API key and is private to the owner.
func (s *SettingsStore) Save(st Stored) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), settingsDirPerm); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := toml.NewEncoder(tmp).Encode(st); err != nil {
		tmp.Close()

		return fmt.Errorf("encode settings: %w", err)
	}

	if err := tmp.Chmod(settingsFilePerm); err != nil {
		tmp.Close()

		return fmt.Errorf("chmod settings: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename settings: %w", err)
	}

	return nil
}
