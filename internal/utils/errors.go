package utils

import (
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a helpful suggestion for the user
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// Common error constructors with suggestions

// ErrCredentialsNotFound creates an error when an account's Google OAuth
// credentials cannot be located.
func ErrCredentialsNotFound(accountID string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no credentials found for account %q", accountID),
		Suggestion: fmt.Sprintf("Place a credentials.json under the account's storage root, then run the interactive auth flow for %q", accountID),
	}
}

// ErrAuthenticationFailed creates an error when the OAuth2 token refresh
// for an account is rejected by Google.
func ErrAuthenticationFailed(accountID string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("authentication failed for account %q", accountID),
		Suggestion: fmt.Sprintf("Re-run the interactive auth flow for %q to obtain a fresh token", accountID),
	}
}

// ErrRemoteNotConfigured creates an error when a referenced remote database
// name has no matching RemoteDBConfig.
func ErrRemoteNotConfigured(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("remote database %q is not configured", name),
		Suggestion: "Run 'gosynctasks remote add' to register it first",
	}
}

// ErrRemoteOffline creates an error when a remote database could not be
// reached, tailoring the suggestion to the kind of network failure.
func ErrRemoteOffline(name, reason string) error {
	suggestion := "Check your internet connection and try again"
	switch {
	case strings.Contains(reason, "DNS"):
		suggestion = "Check the remote's URL and your DNS settings"
	case strings.Contains(reason, "refused"):
		suggestion = "Check whether the remote database server is running and reachable"
	case strings.Contains(reason, "timeout"):
		suggestion = "The remote may be slow or unreachable; try again later"
	}

	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("remote database %q is unreachable: %s", name, reason),
		Suggestion: suggestion,
	}
}

// ErrConfigFileNotFound creates an error when a config file is not found
func ErrConfigFileNotFound(path string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("config file not found at %s", path),
		Suggestion: "Run gosynctasks once to create a default configuration file",
	}
}

// ErrInvalidConfig creates an error for invalid configuration
func ErrInvalidConfig(field string, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid configuration for '%s': %s", field, reason),
		Suggestion: fmt.Sprintf("Check config.yaml under the account's storage root and fix the '%s' field", field),
	}
}

// WrapWithSuggestion wraps an existing error with a suggestion
func WrapWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}
