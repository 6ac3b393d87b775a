// Package credentials resolves a replicated remote database's bearer
// token, preferring an explicit value (config or a CLI flag) over the
// OS keyring over the environment.
package credentials

import "fmt"

// Source records where a resolved token came from.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceKeyring  Source = "keyring"
	SourceEnv      Source = "env"
)

// Token is a resolved bearer token and the source it was found in.
type Token struct {
	Value  string
	Source Source
}

// Resolver resolves remote database tokens in priority order.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns explicit if it is non-empty, otherwise falls back to
// the OS keyring entry for remoteName, then to the environment
// (GOSYNCTASKS_REMOTE_{NAME}_TOKEN, including a .env file).
func (r *Resolver) Resolve(remoteName, explicit string) (*Token, error) {
	if remoteName == "" {
		return nil, fmt.Errorf("remote name is required to resolve a token")
	}
	if explicit != "" {
		return &Token{Value: explicit, Source: SourceExplicit}, nil
	}
	if IsAvailable() {
		if tok, err := Get(remoteName); err == nil {
			return &Token{Value: tok, Source: SourceKeyring}, nil
		}
	}
	if tok := GetToken(remoteName); tok != "" {
		return &Token{Value: tok, Source: SourceEnv}, nil
	}
	return nil, fmt.Errorf("no token found for remote %q (tried: explicit value, keyring, environment)", remoteName)
}
