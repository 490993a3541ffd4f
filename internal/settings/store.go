package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is a Store persisted as a flat JSON object on disk.
// Every Set rewrites the file through a temp file and rename, so a crash
// mid-write leaves either the old or the new file, never a torn one.
type FileStore struct {
	mu       sync.Mutex
	filePath string
	values   map[string]string
}

// NewFileStore opens (or lazily creates) the store at configDir/settings.json
func NewFileStore(configDir string) (*FileStore, error) {
	s := &FileStore{
		filePath: filepath.Join(configDir, "settings.json"),
		values:   make(map[string]string),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing saved yet
			return nil
		}
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}

	s.values = values
	return nil
}

// Get returns the value stored under key
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores value under key and flushes the file
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.values[key]
	s.values[key] = value

	if err := s.saveLocked(); err != nil {
		// Keep memory consistent with what is on disk
		if existed {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}

	return nil
}

func (s *FileStore) saveLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set settings file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close settings file: %w", err)
	}

	if err := os.Rename(tmpName, s.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace settings file: %w", err)
	}

	return nil
}

// GetFilePath returns the path to the settings file
func (s *FileStore) GetFilePath() string {
	return s.filePath
}

// MemoryStore is an in-memory Store, used when the settings file cannot be
// opened and in tests
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value stored under key
func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores value under key
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
