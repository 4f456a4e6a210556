package audit

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/davidthor/clonectl/pkg/audit/backend"
	"github.com/davidthor/clonectl/pkg/errors"
)

const recordsPrefix = "records"

// BlobStore keeps one create-only object per record on a storage backend.
type BlobStore struct {
	backend backend.Backend
	seq     atomic.Int64
	now     func() time.Time
}

// NewBlobStore creates a store over b.
func NewBlobStore(b backend.Backend) *BlobStore {
	return &BlobStore{backend: b, now: time.Now}
}

// Backend returns the underlying storage backend.
func (s *BlobStore) Backend() backend.Backend {
	return s.backend
}

// Append writes the record as a new object. The object name sorts by write
// time so listings come back roughly oldest first.
func (s *BlobStore) Append(ctx context.Context, record Record) error {
	seq := s.seq.Add(1)
	if record.Seq == 0 {
		record.Seq = seq
	}

	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.AuditWriteFailed(record.ID, fmt.Errorf("failed to encode JSON: %w", err))
	}

	if err := s.backend.Create(ctx, recordPath(s.now(), seq, record.ID), content); err != nil {
		return errors.AuditWriteFailed(record.ID, err)
	}
	return nil
}

func (s *BlobStore) Query(ctx context.Context, object string) ([]Record, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if r.Touches(object) {
			out = append(out, r)
		}
	}
	Sort(out)
	return out, nil
}

// All reads every record in object-name order.
func (s *BlobStore) All(ctx context.Context) ([]Record, error) {
	paths, err := s.backend.List(ctx, recordsPrefix+"/")
	if err != nil {
		return nil, errors.BackendError(s.backend.Type(), "list", err)
	}
	sort.Strings(paths)

	records := make([]Record, 0, len(paths))
	for _, p := range paths {
		if !strings.HasSuffix(p, ".json") {
			continue
		}
		record, err := readJSON[Record](ctx, s.backend, p)
		if err != nil {
			return nil, errors.BackendError(s.backend.Type(), "read "+p, err)
		}
		records = append(records, *record)
	}
	return records, nil
}

// LockScope names what a lock protects.
type LockScope struct {
	Plan      string
	Operation string
	Who       string
}

// Lock prevents two runs of the same plan from executing at once.
func (s *BlobStore) Lock(ctx context.Context, scope LockScope) (backend.Lock, error) {
	info := backend.LockInfo{
		Who:       scope.Who,
		Operation: scope.Operation,
	}
	lock, err := s.backend.Lock(ctx, path.Join("locks", scope.Plan), info)
	if err != nil {
		var lockErr *backend.LockError
		if stderrors.As(err, &lockErr) {
			return nil, errors.Locked(errors.LockInfo{
				ID:        lockErr.Info.ID,
				Path:      lockErr.Info.Path,
				Who:       lockErr.Info.Who,
				Operation: lockErr.Info.Operation,
				Created:   lockErr.Info.Created,
			})
		}
		return nil, errors.BackendError(s.backend.Type(), "lock", err)
	}
	return lock, nil
}

func recordPath(at time.Time, seq int64, id string) string {
	return path.Join(recordsPrefix, fmt.Sprintf("%020d-%08d-%s.json", at.UnixNano(), seq, id))
}

func readJSON[T any](ctx context.Context, b backend.Backend, p string) (*T, error) {
	reader, err := b.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var result T
	if err := json.NewDecoder(reader).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	return &result, nil
}

var (
	_ Store  = (*BlobStore)(nil)
	_ Lister = (*BlobStore)(nil)
)
