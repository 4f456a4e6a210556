package local

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/davidthor/clonectl/pkg/audit/backend"
)

func newTestBackend(t *testing.T) (backend.Backend, string) {
	t.Helper()
	tmpDir := t.TempDir()
	b, err := NewBackend(map[string]string{"path": tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return b, tmpDir
}

func TestNewBackend(t *testing.T) {
	b, _ := newTestBackend(t)
	if b.Type() != "local" {
		t.Errorf("expected type 'local', got %q", b.Type())
	}
}

func TestRegistered(t *testing.T) {
	b, err := backend.Create(backend.Config{Type: "local", Config: map[string]string{"path": t.TempDir()}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if b.Type() != "local" {
		t.Errorf("expected type 'local', got %q", b.Type())
	}
}

func TestBackend_CreateRead(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	testData := []byte(`{"outcome": "success"}`)

	if err := b.Create(ctx, "records/1.json", testData); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	reader, err := b.Read(ctx, "records/1.json")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read all failed: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("expected %s, got %s", testData, data)
	}
}

func TestBackend_CreateNeverOverwrites(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	if err := b.Create(ctx, "records/1.json", []byte(`{"v": 1}`)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := b.Create(ctx, "records/1.json", []byte(`{"v": 2}`))
	if !errors.Is(err, backend.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	reader, _ := b.Read(ctx, "records/1.json")
	data, _ := io.ReadAll(reader)
	reader.Close()
	if string(data) != `{"v": 1}` {
		t.Errorf("original object was modified: %s", data)
	}
}

func TestBackend_ConcurrentCreateSamePath(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- b.Create(ctx, "records/race.json", []byte("x"))
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, backend.ErrExists) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly one successful create, got %d", succeeded)
	}
}

func TestBackend_ReadNotFound(t *testing.T) {
	b, _ := newTestBackend(t)

	_, err := b.Read(context.Background(), "missing.json")
	if !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBackend_List(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	for _, p := range []string{"records/a.json", "records/b.json", "other/c.json"} {
		if err := b.Create(ctx, p, []byte("{}")); err != nil {
			t.Fatalf("create %s failed: %v", p, err)
		}
	}

	paths, err := b.List(ctx, "records")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	sort.Strings(paths)
	if len(paths) != 2 || paths[0] != "records/a.json" || paths[1] != "records/b.json" {
		t.Errorf("unexpected paths: %v", paths)
	}

	empty, err := b.List(ctx, "nothing-here")
	if err != nil {
		t.Fatalf("list of missing prefix failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no paths, got %v", empty)
	}
}

func TestBackend_Delete(t *testing.T) {
	b, tmpDir := newTestBackend(t)
	ctx := context.Background()

	_ = b.Create(ctx, "x.lock", []byte("{}"))
	if err := b.Delete(ctx, "x.lock"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "x.lock")); !os.IsNotExist(err) {
		t.Error("expected file to be removed")
	}
	if err := b.Delete(ctx, "x.lock"); err != nil {
		t.Errorf("deleting a missing object should succeed, got %v", err)
	}
}

func TestBackend_Lock(t *testing.T) {
	b, tmpDir := newTestBackend(t)
	ctx := context.Background()

	lock, err := b.Lock(ctx, "plans/dev-refresh", backend.LockInfo{Who: "test-user", Operation: "apply"})
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if lock.ID() == "" {
		t.Error("expected lock ID")
	}
	if lock.Info().Who != "test-user" {
		t.Errorf("expected Who 'test-user', got %q", lock.Info().Who)
	}

	lockPath := filepath.Join(tmpDir, "plans", "dev-refresh.lock")
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Error("expected lock file to exist")
	}

	if err := lock.Unlock(ctx); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("expected lock file to be removed after unlock")
	}
}

func TestBackend_LockConflict(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	info := backend.LockInfo{Who: "first", Operation: "apply"}

	lock1, err := b.Lock(ctx, "plans/p", info)
	if err != nil {
		t.Fatalf("first lock failed: %v", err)
	}
	defer func() { _ = lock1.Unlock(ctx) }()

	_, err = b.Lock(ctx, "plans/p", backend.LockInfo{Who: "second"})
	var lockErr *backend.LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockError, got %v", err)
	}
	if !errors.Is(err, backend.ErrLocked) {
		t.Error("expected ErrLocked")
	}
	if lockErr.Info.Who != "first" {
		t.Errorf("expected holder 'first', got %q", lockErr.Info.Who)
	}
}

func TestBackend_StaleLockIsBroken(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	stale, _ := json.Marshal(backend.LockInfo{
		ID:      "old",
		Who:     "crashed",
		Created: time.Now().Add(-2 * backend.StaleLockAge),
	})
	if err := b.Create(ctx, "plans/p.lock", stale); err != nil {
		t.Fatalf("create stale lock failed: %v", err)
	}

	lock, err := b.Lock(ctx, "plans/p", backend.LockInfo{Who: "new"})
	if err != nil {
		t.Fatalf("expected stale lock to be broken, got %v", err)
	}
	if lock.ID() == "old" {
		t.Error("expected a fresh lock ID")
	}
}
