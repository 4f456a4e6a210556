package secrets

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
)

// FileProvider serves secrets loaded from .env files.
type FileProvider struct {
	secrets map[string]string
}

// NewFileProvider creates a provider over a copy of secrets.
func NewFileProvider(secrets map[string]string) *FileProvider {
	copied := make(map[string]string, len(secrets))
	for k, v := range secrets {
		copied[k] = v
	}
	return &FileProvider{secrets: copied}
}

// LoadFileProvider reads dotenv-formatted files. Later files override earlier ones.
func LoadFileProvider(paths ...string) (*FileProvider, error) {
	merged := map[string]string{}
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	return &FileProvider{secrets: merged}, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	if v, ok := p.secrets[key]; ok {
		return v, nil
	}
	return "", ErrSecretNotFound
}
