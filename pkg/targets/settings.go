package targets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrAccountNotFound is returned by settings providers for unknown accounts.
var ErrAccountNotFound = errors.New("account not found")

// RawTargets is an account's target configuration as stored, keyed by metric name.
// Values may be numbers, numeric strings, blanks, or {value, direction} maps.
type RawTargets map[string]any

// SettingsProvider is the external store of per-account targets.
type SettingsProvider interface {
	// GetTargets returns the raw targets for an account or ErrAccountNotFound.
	GetTargets(ctx context.Context, accountID string) (RawTargets, error)

	// Accounts lists the accounts that should be evaluated.
	Accounts(ctx context.Context) ([]string, error)
}

// SettingsFile is the on-disk layout read by FileSettings.
type SettingsFile struct {
	Accounts map[string]AccountSettings `yaml:"accounts"`
}

// AccountSettings holds the configuration for one account.
type AccountSettings struct {
	Name     string     `yaml:"name"`
	Disabled bool       `yaml:"disabled"`
	Targets  RawTargets `yaml:"targets"`
}

// LoadSettings reads a YAML settings file.
func LoadSettings(path string) (*SettingsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file %s: %w", path, err)
	}
	return LoadSettingsFromBytes(data)
}

// LoadSettingsFromBytes parses YAML settings from raw bytes.
func LoadSettingsFromBytes(data []byte) (*SettingsFile, error) {
	var f SettingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if f.Accounts == nil {
		f.Accounts = map[string]AccountSettings{}
	}
	return &f, nil
}

// FileSettings reads targets from a YAML file. The file is re-read on every
// call so edits take effect on the next run.
type FileSettings struct {
	path string
}

// NewFileSettings creates a provider backed by the YAML file at path.
func NewFileSettings(path string) *FileSettings {
	return &FileSettings{path: path}
}

func (f *FileSettings) GetTargets(_ context.Context, accountID string) (RawTargets, error) {
	file, err := LoadSettings(f.path)
	if err != nil {
		return nil, err
	}
	acct, ok := file.Accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("settings for %q: %w", accountID, ErrAccountNotFound)
	}
	return acct.Targets, nil
}

func (f *FileSettings) Accounts(_ context.Context) ([]string, error) {
	file, err := LoadSettings(f.path)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(file.Accounts))
	for id, acct := range file.Accounts {
		if acct.Disabled {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// MemorySettings is an in-process settings provider.
type MemorySettings struct {
	mu       sync.RWMutex
	accounts map[string]RawTargets
}

// NewMemorySettings creates an empty in-memory provider.
func NewMemorySettings() *MemorySettings {
	return &MemorySettings{accounts: make(map[string]RawTargets)}
}

// Set replaces the targets for an account.
func (m *MemorySettings) Set(accountID string, raw RawTargets) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make(RawTargets, len(raw))
	for k, v := range raw {
		cp[k] = v
	}
	m.accounts[accountID] = cp
}

// Delete removes an account.
func (m *MemorySettings) Delete(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, accountID)
}

func (m *MemorySettings) GetTargets(_ context.Context, accountID string) (RawTargets, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("settings for %q: %w", accountID, ErrAccountNotFound)
	}
	cp := make(RawTargets, len(raw))
	for k, v := range raw {
		cp[k] = v
	}
	return cp, nil
}

func (m *MemorySettings) Accounts(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
