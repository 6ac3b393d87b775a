// Package config implements ConfigStore: per-account YAML settings
// consulted by the sync engine, with atomic writes and a
// defaults -> global -> account merge order.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"gosynctasks/backend/conflict"
	"gosynctasks/internal/utils"
)

const (
	ConfigDirName  = "gosynctasks"
	GlobalFileName = "config.yaml"
	AccountFileName = "config.yaml"
	ConfigDirPerm  = 0o755
	ConfigFilePerm = 0o644
)

// SyncSettings holds the sync.* documented keys.
type SyncSettings struct {
	PullRangeDays    *int             `yaml:"pull_range_days"`
	AutoSave         bool             `yaml:"auto_save"`
	ConflictStrategy conflict.Strategy `yaml:"conflict_strategy,omitempty" validate:"omitempty,oneof=local_wins remote_wins latest_wins merge"`
}

// Settings is one layer (defaults, global, or account) of configuration.
type Settings struct {
	DefaultTasklist string       `yaml:"default_tasklist,omitempty"`
	Sync            SyncSettings `yaml:"sync"`
}

// Defaults returns the built-in baseline every merge starts from.
func Defaults() Settings {
	return Settings{
		DefaultTasklist: "My Tasks",
		Sync: SyncSettings{
			PullRangeDays:    nil, // null = full pull
			AutoSave:         true,
			ConflictStrategy: conflict.LatestWins,
		},
	}
}

func (s Settings) Validate() error {
	return validator.New().Struct(s)
}

// Store reads and writes the global config file and per-account override
// files beneath configRoot, merging defaults -> global -> account in
// that order.
type Store struct {
	configRoot string
}

func NewStore(configRoot string) *Store {
	return &Store{configRoot: configRoot}
}

// DefaultConfigRoot resolves <user-config-dir>/gosynctasks, matching the
// filesystem layout's <config_root>.
func DefaultConfigRoot() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(dir, ConfigDirName), nil
}

func (s *Store) globalPath() string {
	return filepath.Join(s.configRoot, GlobalFileName)
}

func (s *Store) accountPath(accountID string) string {
	return filepath.Join(s.configRoot, accountID, AccountFileName)
}

// Load merges defaults, the global file (if present), and the account
// file (if present, and accountID is non-empty) in that order.
func (s *Store) Load(accountID string) (Settings, error) {
	merged := Defaults()

	if err := mergeFile(s.globalPath(), &merged); err != nil {
		return merged, err
	}
	if accountID != "" {
		if err := mergeFile(s.accountPath(accountID), &merged); err != nil {
			return merged, err
		}
	}
	if err := merged.Validate(); err != nil {
		return merged, fmt.Errorf("invalid configuration: %w", err)
	}
	return merged, nil
}

func mergeFile(path string, into *Settings) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return yaml.Unmarshal(data, into)
}

// WriteGlobal atomically writes the global config file (temp file +
// rename), so a crash mid-write never leaves a truncated file in place.
func (s *Store) WriteGlobal(settings Settings) error {
	return atomicWriteYAML(s.globalPath(), settings)
}

// WriteAccount atomically writes an account's override file.
func (s *Store) WriteAccount(accountID string, settings Settings) error {
	return atomicWriteYAML(s.accountPath(accountID), settings)
}

func atomicWriteYAML(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), ConfigDirPerm); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config file: %w", err)
	}
	if err := os.Chmod(tmpPath, ConfigFilePerm); err != nil {
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp config file into place: %w", err)
	}
	return nil
}

// ExpandConfigRoot resolves ~ and environment variables in a
// user-supplied config root override.
func ExpandConfigRoot(path string) (string, error) {
	return utils.ExpandPath(path)
}
