package secrets

import (
	"context"
	"os"
	"strings"
)

// DefaultEnvPrefix is prepended to secret keys looked up in the environment.
const DefaultEnvPrefix = "CLONECTL_SECRET_"

// EnvProvider reads secrets from environment variables. The key "db-password"
// maps to CLONECTL_SECRET_DB_PASSWORD; a key that is already a variable name
// is also tried verbatim.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a provider using DefaultEnvPrefix.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{prefix: DefaultEnvPrefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(p.envName(key)); ok {
		return v, nil
	}
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	return "", ErrSecretNotFound
}

func (p *EnvProvider) envName(key string) string {
	return p.prefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}
