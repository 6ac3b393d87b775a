// Package account implements the Account Manager: it enumerates accounts
// from the on-disk <config_root>/<account_id>/ layout and resolves the
// active one. Each account is fully independent storage; nothing here
// crosses account boundaries.
package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gosynctasks/backend"
)

const (
	CredentialsFileName = "credentials.json"
	TokenFilePrefix     = "token."
	LocalDBFileName     = "tasks.db"
	RemoteDBsFileName   = "remote_dbs.json"
	DeletionLogFileName = "deletion_log.json"
)

// accountMeta is the on-disk identity file for an account, stored
// alongside its credentials and database.
type accountMeta struct {
	ID          string             `json:"id"`
	DisplayName string             `json:"display_name"`
	Email       string             `json:"email"`
	Type        backend.AccountType `json:"type"`
}

const metaFileName = "account.json"

// Manager enumerates and resolves accounts beneath one config root.
type Manager struct {
	configRoot string
}

func NewManager(configRoot string) *Manager {
	return &Manager{configRoot: configRoot}
}

// List enumerates every account directory beneath the config root that
// carries an account.json identity file.
func (m *Manager) List() ([]backend.Account, error) {
	entries, err := os.ReadDir(m.configRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config root %s: %w", m.configRoot, err)
	}

	var accounts []backend.Account
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		acc, ok, err := m.load(entry.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			accounts = append(accounts, acc)
		}
	}
	return accounts, nil
}

// Resolve returns the account with the given id.
func (m *Manager) Resolve(accountID string) (backend.Account, error) {
	acc, ok, err := m.load(accountID)
	if err != nil {
		return backend.Account{}, err
	}
	if !ok {
		return backend.Account{}, fmt.Errorf("account %q not found under %s", accountID, m.configRoot)
	}
	return acc, nil
}

// Create registers a new account directory with its identity file.
func (m *Manager) Create(id, displayName, email string, accountType backend.AccountType) (backend.Account, error) {
	dir := filepath.Join(m.configRoot, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return backend.Account{}, fmt.Errorf("creating account dir: %w", err)
	}

	meta := accountMeta{ID: id, DisplayName: displayName, Email: email, Type: accountType}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return backend.Account{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, metaFileName), data, 0o644); err != nil {
		return backend.Account{}, fmt.Errorf("writing account metadata: %w", err)
	}

	return m.toAccount(meta), nil
}

func (m *Manager) load(accountID string) (backend.Account, bool, error) {
	dir := filepath.Join(m.configRoot, accountID)
	metaPath := filepath.Join(dir, metaFileName)

	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return backend.Account{}, false, nil
	}
	if err != nil {
		return backend.Account{}, false, fmt.Errorf("reading %s: %w", metaPath, err)
	}

	var meta accountMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return backend.Account{}, false, fmt.Errorf("parsing %s: %w", metaPath, err)
	}
	if meta.ID == "" {
		meta.ID = accountID
	}
	return m.toAccount(meta), true, nil
}

func (m *Manager) toAccount(meta accountMeta) backend.Account {
	dir := filepath.Join(m.configRoot, meta.ID)
	return backend.Account{
		ID:              meta.ID,
		DisplayName:     meta.DisplayName,
		Email:           meta.Email,
		Type:            meta.Type,
		CredentialsPath: filepath.Join(dir, CredentialsFileName),
		StorageRoot:     dir,
	}
}

// LocalDBPath returns the LocalStore database file path for an account.
func LocalDBPath(acc backend.Account) string {
	return filepath.Join(acc.StorageRoot, LocalDBFileName)
}

// RemoteDBsPath returns the remote_dbs.json path for an account.
func RemoteDBsPath(acc backend.Account) string {
	return filepath.Join(acc.StorageRoot, RemoteDBsFileName)
}

// DeletionLogPath returns the deletion_log.json path for an account.
func DeletionLogPath(acc backend.Account) string {
	return filepath.Join(acc.StorageRoot, DeletionLogFileName)
}
