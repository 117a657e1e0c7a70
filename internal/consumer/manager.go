package consumer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrConsumerNotFound is returned when a requested consumer cannot be found.
var ErrConsumerNotFound = errors.New("consumer not found")

// ManifestFile is the manifest name looked up in each consumer directory.
const ManifestFile = "consumer.json"

// Manager manages consumer discovery and access.
type Manager struct {
	dir       string
	logger    *slog.Logger
	consumers map[string]*Consumer
	mu        sync.RWMutex
}

// NewManager creates a new consumer Manager over dir.
func NewManager(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:       dir,
		logger:    logger,
		consumers: make(map[string]*Consumer),
	}
}

// Discover scans the consumer directory for consumer.json manifests.
// Each subdirectory is expected to hold one consumer.
func (m *Manager) Discover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consumers = make(map[string]*Consumer)

	info, err := os.Stat(m.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		data, err := os.ReadFile(filepath.Join(path, ManifestFile))
		if err != nil {
			if !os.IsNotExist(err) {
				m.logger.Warn("skipping consumer", "path", path, "error", err)
			}
			continue
		}

		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			m.logger.Warn("skipping consumer with invalid manifest", "path", path, "error", err)
			continue
		}
		if manifest.Name == "" || manifest.Executable == "" {
			m.logger.Warn("skipping consumer without name or executable", "path", path)
			continue
		}

		m.consumers[manifest.Name] = &Consumer{
			Manifest:   manifest,
			Path:       path,
			Executable: filepath.Join(path, manifest.Executable),
		}
	}

	return nil
}

// Get returns a consumer by name.
func (m *Manager) Get(name string) (*Consumer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.consumers[name]
	if !ok {
		return nil, ErrConsumerNotFound
	}
	return c, nil
}

// List returns all discovered consumers sorted by name.
func (m *Manager) List() []*Consumer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	consumers := make([]*Consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		consumers = append(consumers, c)
	}
	sort.Slice(consumers, func(i, j int) bool {
		return consumers[i].Manifest.Name < consumers[j].Manifest.Name
	})
	return consumers
}

// Dir returns the consumer directory path.
func (m *Manager) Dir() string {
	return m.dir
}
