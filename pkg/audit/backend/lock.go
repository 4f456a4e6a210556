package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StaleLockAge is how old a lock must be before another caller may break it.
const StaleLockAge = time.Hour

// ObjectLock is a lock held as an object created with Create.
type ObjectLock struct {
	backend Backend
	path    string
	info    LockInfo
}

// AcquireObjectLock takes a lock by creating <path>.lock. Because Create
// never overwrites, two callers can never both hold the lock. A lock older
// than StaleLockAge is removed and acquisition is retried once.
func AcquireObjectLock(ctx context.Context, b Backend, path string, info LockInfo) (*ObjectLock, error) {
	lockPath := path + ".lock"

	info.ID = uuid.New().String()
	info.Path = path
	info.Created = time.Now().UTC()

	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err = b.Create(ctx, lockPath, data)
		if err == nil {
			return &ObjectLock{backend: b, path: lockPath, info: info}, nil
		}
		if !errors.Is(err, ErrExists) {
			return nil, fmt.Errorf("failed to create lock: %w", err)
		}

		existing, readErr := readLockInfo(ctx, b, lockPath)
		if readErr != nil || time.Since(existing.Created) < StaleLockAge {
			return nil, &LockError{Info: existing, Err: ErrLocked}
		}
		if err := b.Delete(ctx, lockPath); err != nil {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	existing, _ := readLockInfo(ctx, b, lockPath)
	return nil, &LockError{Info: existing, Err: ErrLocked}
}

func readLockInfo(ctx context.Context, b Backend, lockPath string) (LockInfo, error) {
	r, err := b.Read(ctx, lockPath)
	if err != nil {
		return LockInfo{}, err
	}
	defer r.Close()

	var info LockInfo
	if err := json.NewDecoder(r).Decode(&info); err != nil {
		return LockInfo{}, err
	}
	return info, nil
}

func (l *ObjectLock) ID() string {
	return l.info.ID
}

func (l *ObjectLock) Unlock(ctx context.Context) error {
	if err := l.backend.Delete(ctx, l.path); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *ObjectLock) Info() LockInfo {
	return l.info
}
