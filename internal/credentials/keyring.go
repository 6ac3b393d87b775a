package credentials

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "gosynctasks-remote"

// Set stores a remote database's bearer token in the OS keyring, keyed
// by the remote's configured name.
func Set(remoteName, token string) error {
	if remoteName == "" {
		return fmt.Errorf("remote name cannot be empty")
	}
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if err := keyring.Set(keyringService, remoteName, token); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	return nil
}

// Get retrieves a remote database's bearer token from the OS keyring.
func Get(remoteName string) (string, error) {
	if remoteName == "" {
		return "", fmt.Errorf("remote name cannot be empty")
	}
	token, err := keyring.Get(keyringService, remoteName)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", fmt.Errorf("no token stored in keyring for remote %q", remoteName)
		}
		return "", fmt.Errorf("failed to retrieve token from keyring: %w", err)
	}
	return token, nil
}

// Delete removes a remote database's bearer token from the OS keyring.
func Delete(remoteName string) error {
	if remoteName == "" {
		return fmt.Errorf("remote name cannot be empty")
	}
	err := keyring.Delete(keyringService, remoteName)
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("failed to delete token from keyring: %w", err)
	}
	return nil
}

// IsAvailable reports whether the OS keyring backend can be reached at
// all, so callers can skip straight to the environment fallback on a
// headless machine with no secret service running.
func IsAvailable() bool {
	_, err := keyring.Get(keyringService, "gosynctasks-keyring-probe")
	return err == nil || err == keyring.ErrNotFound
}
