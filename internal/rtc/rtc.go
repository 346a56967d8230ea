// Package rtc persists the small state that survives deep sleep: the hub
// address, its channel and the consecutive send error counter.
package rtc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/sweeney/now-remote/internal/link"
)

// DefaultPath lives on tmpfs so a reboot clears it like RTC memory.
const DefaultPath = "/run/now-remote/rtc.toml"

// State is the persisted deep-sleep state.
type State struct {
	HubAddrPresent bool     `toml:"hub_addr_present"`
	HubMAC         link.MAC `toml:"hub_mac"`
	WifiChannel    uint8    `toml:"wifi_channel"`
	ErrorCount     uint8    `toml:"error_count"`
}

// ClearHub forgets the hub and resets the error counter.
func (s *State) ClearHub() {
	s.HubAddrPresent = false
	s.HubMAC = link.MAC{}
	s.WifiChannel = 0
	s.ErrorCount = 0
}

// Store loads and saves State.
type Store interface {
	Load() (State, error)
	Save(State) error
	Clear() error
}

// FileStore keeps State in a TOML file.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file location.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the state file. A missing file is a cold boot: zero State.
func (f *FileStore) Load() (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("reading state file: %w", err)
	}

	var s State
	if err := toml.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("parsing state file: %w", err)
	}
	return s, nil
}

// Save writes the state file atomically (write temp + rename).
func (f *FileStore) Save(s State) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming state file: %w", err)
	}
	return nil
}

// Clear removes the state file.
func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

// MemoryStore keeps State in memory.
type MemoryStore struct {
	mu    sync.Mutex
	state State
	Saves int
}

// NewMemoryStore creates a store holding s.
func NewMemoryStore(s State) *MemoryStore {
	return &MemoryStore{state: s}
}

func (m *MemoryStore) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemoryStore) Save(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.Saves++
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{}
	return nil
}
