package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store owns a loaded configuration file and writes runtime changes back
// to it.
//
// Two copies are kept: the effective configuration (file plus environment
// overrides) that the process runs with, and the file configuration that
// gets saved. Environment values such as passwords are never written to
// disk.
//
// Thread Safety: All methods are safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	path      string
	file      *Config
	effective *Config
}

// LoadStore loads path like Load and keeps it for later saves.
func LoadStore(path string) (*Store, error) {
	file, err := readFile(path)
	if err != nil {
		return nil, err
	}

	effective := file.clone()
	applyEnvOverrides(effective)
	if err := effective.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &Store{path: path, file: file, effective: effective}, nil
}

// Path returns the file the store saves to.
func (s *Store) Path() string {
	return s.path
}

// Config returns a copy of the effective configuration.
func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.effective.clone()
}

// Update applies fn to the configuration, validates the result and saves
// it. Nothing changes if validation or the write fails.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.file.clone()
	effective := s.effective.clone()
	fn(file)
	fn(effective)

	if err := effective.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := writeAtomic(s.path, file); err != nil {
		return err
	}

	s.file = file
	s.effective = effective
	return nil
}

// SaveDeviceHost records a new device address after a network change.
func (s *Store) SaveDeviceHost(host string) error {
	return s.Update(func(c *Config) { c.Device.Host = host })
}

// SaveBufferCount records a new buffer count.
func (s *Store) SaveBufferCount(count int) error {
	return s.Update(func(c *Config) { c.Device.Buffers = count })
}

// writeAtomic marshals cfg next to path and renames it into place, so a
// crash mid-write leaves the previous file intact.
func writeAtomic(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}
