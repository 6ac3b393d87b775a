package credentials

import (
	"os"
	"testing"
)

func TestResolver_Resolve_ExplicitWins(t *testing.T) {
	os.Setenv("GOSYNCTASKS_REMOTE_EXPLICITTEST_TOKEN", "env-token")
	defer os.Unsetenv("GOSYNCTASKS_REMOTE_EXPLICITTEST_TOKEN")

	tok, err := NewResolver().Resolve("explicittest", "flag-token")
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}
	if tok.Value != "flag-token" || tok.Source != SourceExplicit {
		t.Errorf("got %+v, want {flag-token explicit}", tok)
	}
}

func TestResolver_Resolve_FallsBackToEnv(t *testing.T) {
	os.Setenv("GOSYNCTASKS_REMOTE_ENVFALLBACK_TOKEN", "env-token")
	defer os.Unsetenv("GOSYNCTASKS_REMOTE_ENVFALLBACK_TOKEN")

	tok, err := NewResolver().Resolve("envfallback", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}
	if tok.Value != "env-token" || tok.Source != SourceEnv {
		t.Errorf("got %+v, want {env-token env}", tok)
	}
}

func TestResolver_Resolve_NoTokenFound(t *testing.T) {
	if _, err := NewResolver().Resolve("definitely-not-configured", ""); err == nil {
		t.Error("expected an error when no token can be resolved from any source")
	}
}

func TestResolver_Resolve_EmptyRemoteName(t *testing.T) {
	if _, err := NewResolver().Resolve("", ""); err == nil {
		t.Error("expected an error when remote name is empty")
	}
}
