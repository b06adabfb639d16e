// Package datastore is a small key-value store with per-key expiry. It is
// kept in memory and, when a file path is set, saved to a JSON file in
// the background and on Close.
package datastore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// Config holds configuration options for the DataStore
type Config struct {
	// FilePath is empty for a store that lives only in memory.
	FilePath         string
	AutoSaveInterval time.Duration
	MaxEntries       int // 0 = unlimited
	Clock            clock.Clock
	Logger           *log.Logger
}

// DefaultConfig returns a default configuration
func DefaultConfig(filePath string) Config {
	return Config{
		FilePath:         filePath,
		AutoSaveInterval: 10 * time.Second,
		MaxEntries:       10000,
		Clock:            clock.WallClock,
		Logger:           log.New(os.Stderr, "[datastore] ", log.LstdFlags),
	}
}

type entry struct {
	Value   json.RawMessage `json:"value"`
	Expires time.Time       `json:"expires"`
}

type DataStore struct {
	mu           sync.Mutex
	data         map[string]entry
	config       Config
	lastChecksum string
	closed       bool
	done         chan struct{}
	wg           sync.WaitGroup
}

// New creates a DataStore and loads the file if it exists.
func New(config Config) (*DataStore, error) {
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[datastore] ", log.LstdFlags)
	}
	if config.AutoSaveInterval <= 0 {
		config.AutoSaveInterval = 10 * time.Second
	}

	ds := &DataStore{
		data:   make(map[string]entry),
		config: config,
		done:   make(chan struct{}),
	}

	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := ds.loadFromFile(); err != nil {
			return nil, err
		}
	}

	ds.wg.Add(1)
	go ds.maintain()
	return ds, nil
}

// Put stores value as JSON under key until ttl has passed.
func (ds *DataStore) Put(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %q: %w", key, err)
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return errors.New("datastore is closed")
	}
	if _, exists := ds.data[key]; !exists && ds.config.MaxEntries > 0 && len(ds.data) >= ds.config.MaxEntries {
		ds.sweepLocked()
		if len(ds.data) >= ds.config.MaxEntries {
			return errors.QuotaLimitExceededf("datastore holds %d entries", len(ds.data))
		}
	}
	ds.data[key] = entry{Value: raw, Expires: ds.config.Clock.Now().Add(ttl)}
	return nil
}

// Get decodes the value of key into out. It reports false for missing
// and expired keys.
func (ds *DataStore) Get(key string, out any) (bool, error) {
	ds.mu.Lock()
	e, ok := ds.live(key)
	ds.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(e.Value, out)
}

// Take is Get followed by Delete.
func (ds *DataStore) Take(key string, out any) (bool, error) {
	ds.mu.Lock()
	e, ok := ds.live(key)
	delete(ds.data, key)
	ds.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(e.Value, out)
}

func (ds *DataStore) Delete(key string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	delete(ds.data, key)
}

func (ds *DataStore) live(key string) (entry, bool) {
	e, ok := ds.data[key]
	if !ok {
		return entry{}, false
	}
	if !ds.config.Clock.Now().Before(e.Expires) {
		delete(ds.data, key)
		return entry{}, false
	}
	return e, true
}

// Sweep removes expired keys and returns how many were removed.
func (ds *DataStore) Sweep() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.sweepLocked()
}

func (ds *DataStore) sweepLocked() int {
	now := ds.config.Clock.Now()
	n := 0
	for k, e := range ds.data {
		if !now.Before(e.Expires) {
			delete(ds.data, k)
			n++
		}
	}
	return n
}

func (ds *DataStore) Len() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.data)
}

// SaveToFile forces an immediate save to disk
func (ds *DataStore) SaveToFile() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.saveLocked()
}

// Close stops the background routine and saves a last time.
func (ds *DataStore) Close() error {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return nil
	}
	ds.closed = true
	ds.mu.Unlock()

	close(ds.done)
	ds.wg.Wait()
	return ds.SaveToFile()
}

// maintain sweeps and saves every AutoSaveInterval.
func (ds *DataStore) maintain() {
	defer ds.wg.Done()
	for {
		select {
		case <-ds.done:
			return
		case <-ds.config.Clock.After(ds.config.AutoSaveInterval):
		}

		ds.mu.Lock()
		if n := ds.sweepLocked(); n > 0 {
			ds.config.Logger.Printf("[DEBUG] Removed %d expired entries", n)
		}
		if err := ds.saveLocked(); err != nil {
			ds.config.Logger.Printf("[ERR] Auto-save error: %v", err)
		}
		ds.mu.Unlock()
	}
}

func (ds *DataStore) saveLocked() error {
	if ds.config.FilePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(ds.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Skip save if data hasn't changed
	checksum := calculateChecksum(data)
	if checksum == ds.lastChecksum {
		return nil
	}
	if err := writeFileAtomic(ds.config.FilePath, data); err != nil {
		return err
	}
	ds.lastChecksum = checksum
	return nil
}

func (ds *DataStore) loadFromFile() error {
	data, err := os.ReadFile(ds.config.FilePath)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var temp map[string]entry
	if err := json.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("invalid JSON format in %s: %w", ds.config.FilePath, err)
	}
	if temp != nil {
		ds.data = temp
	}
	ds.lastChecksum = calculateChecksum(data)
	ds.sweepLocked()
	return nil
}

// writeFileAtomic writes to a temporary file, syncs it and renames it
// over path.
func writeFileAtomic(path string, data []byte) error {
	tmpFile := path + ".tmp"
	file, err := os.OpenFile(tmpFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	file.Close()

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func calculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
