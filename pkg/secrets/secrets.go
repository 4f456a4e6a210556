// Package secrets resolves credentials from environment variables, .env files,
// AWS Secrets Manager or an interactive prompt.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrSecretNotFound is returned when a provider has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

// Provider is a read-only source of secret values. Get returns
// ErrSecretNotFound when the provider has no value for key.
type Provider interface {
	Name() string
	Get(ctx context.Context, key string) (string, error)
}

// Manager looks secrets up across providers in registration order.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
	priority  []string
}

// NewManager creates a manager with no providers.
func NewManager() *Manager {
	return &Manager{providers: make(map[string]Provider)}
}

// DefaultManager creates a manager backed by environment variables.
func DefaultManager() *Manager {
	m := NewManager()
	m.RegisterProvider(NewEnvProvider())
	return m
}

// RegisterProvider adds a provider at the lowest priority.
func (m *Manager) RegisterProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.providers[p.Name()]; !exists {
		m.priority = append(m.priority, p.Name())
	}
	m.providers[p.Name()] = p
}

// Get returns the first value found for key.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	order := append([]string(nil), m.priority...)
	providers := m.providers
	m.mu.RUnlock()

	for _, name := range order {
		p, ok := providers[name]
		if !ok {
			continue
		}
		v, err := p.Get(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("provider %s: %w", name, err)
		}
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

// GetFromProvider reads key from one named provider.
func (m *Manager) GetFromProvider(ctx context.Context, provider, key string) (string, error) {
	m.mu.RLock()
	p, ok := m.providers[provider]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown secret provider %q", provider)
	}
	return p.Get(ctx, key)
}

// ResolveSecrets replaces ${secret:key} and ${secret:provider:key} references
// in every string of data.
func (m *Manager) ResolveSecrets(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	out, err := m.resolveValue(ctx, data)
	if err != nil {
		return nil, err
	}
	return out.(map[string]interface{}), nil
}

func (m *Manager) resolveValue(ctx context.Context, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return m.resolveString(ctx, v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			r, err := m.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			r, err := m.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

const secretRef = "${secret:"

func (m *Manager) resolveString(ctx context.Context, s string) (string, error) {
	var b strings.Builder
	for {
		start := strings.Index(s, secretRef)
		if start < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("unclosed secret reference in %q", s)
		}
		ref := s[start+len(secretRef) : start+end]

		var (
			value string
			err   error
		)
		if provider, key, ok := strings.Cut(ref, ":"); ok {
			value, err = m.GetFromProvider(ctx, provider, key)
		} else {
			value, err = m.Get(ctx, ref)
		}
		if err != nil {
			return "", fmt.Errorf("failed to resolve secret %q: %w", ref, err)
		}

		b.WriteString(s[:start])
		b.WriteString(value)
		s = s[start+end+1:]
	}
}
