// Package backend defines the storage interface for durable audit records
// and the registry of named implementations.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrExists is returned by Create when the object is already present.
	ErrExists = errors.New("object already exists")

	// ErrLocked is returned when a lock is held by someone else.
	ErrLocked = errors.New("state is locked")
)

// Backend stores immutable objects. Create never overwrites: once an object
// has been written it can only be read, listed or (for locks) deleted.
type Backend interface {
	// Type returns the backend type name.
	Type() string

	// Create writes a new object and returns only once it is durable.
	// Returns ErrExists if the path is already taken.
	Create(ctx context.Context, path string, data []byte) error

	// Read opens an object. Returns ErrNotFound if it does not exist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// List returns the paths of all objects under prefix, relative to the backend root.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Lock acquires an exclusive lock on path.
	Lock(ctx context.Context, path string, info LockInfo) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	ID() string
	Unlock(ctx context.Context) error
	Info() LockInfo
}

// LockInfo describes who holds a lock.
type LockInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Who       string    `json:"who"`
	Operation string    `json:"operation"`
	Created   time.Time `json:"created"`
}

// LockError is returned when a lock cannot be acquired.
type LockError struct {
	Info LockInfo
	Err  error
}

func (e *LockError) Error() string {
	return e.Err.Error()
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// Factory creates a backend from its key/value configuration.
type Factory func(config map[string]string) (Backend, error)

// Config selects and configures a backend.
type Config struct {
	Type   string            `yaml:"type" json:"type"`
	Config map[string]string `yaml:"config" json:"config"`
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available by name. Backends register themselves
// from init.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Create builds the backend named by config.Type.
func Create(config Config) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[config.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown audit backend type %q (available: %v)", config.Type, Types())
	}
	cfg := config.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	return factory(cfg)
}

// Types returns the registered backend names, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
