// Package gcs implements a Google Cloud Storage audit backend.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/davidthor/clonectl/pkg/audit/backend"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

func init() {
	backend.Register("gcs", NewBackend)
}

// Backend stores audit objects in a GCS bucket.
type Backend struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewBackend creates a new GCS backend.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	bucketName, ok := cfg["bucket"]
	if !ok || bucketName == "" {
		return nil, fmt.Errorf("gcs backend requires 'bucket' configuration")
	}

	ctx := context.Background()
	var opts []option.ClientOption

	if credentialsFile := cfg["credentials"]; credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	if credentialsJSON := cfg["credentials_json"]; credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}

	// Emulator
	if endpoint := cfg["endpoint"]; endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &Backend{
		client: client,
		bucket: bucketName,
		prefix: cfg["prefix"],
	}, nil
}

func (b *Backend) Type() string {
	return "gcs"
}

// Create writes with a DoesNotExist precondition; the object is durable once
// the writer closes without error.
func (b *Backend) Create(ctx context.Context, objectPath string, data []byte) error {
	fullPath := b.fullPath(objectPath)

	obj := b.client.Bucket(b.bucket).Object(fullPath).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return b.writeError(fullPath, err)
	}
	if err := writer.Close(); err != nil {
		return b.writeError(fullPath, err)
	}

	return nil
}

func (b *Backend) writeError(fullPath string, err error) error {
	if isPreconditionFailed(err) {
		return backend.ErrExists
	}
	return fmt.Errorf("failed to write gs://%s/%s: %w", b.bucket, fullPath, err)
}

func (b *Backend) Read(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	fullPath := b.fullPath(objectPath)

	reader, err := b.client.Bucket(b.bucket).Object(fullPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", b.bucket, fullPath, err)
	}

	return reader, nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.fullPath(prefix)

	var paths []string
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: fullPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		paths = append(paths, b.relative(attrs.Name))
	}

	return paths, nil
}

func (b *Backend) Delete(ctx context.Context, objectPath string) error {
	fullPath := b.fullPath(objectPath)

	err := b.client.Bucket(b.bucket).Object(fullPath).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", b.bucket, fullPath, err)
	}
	return nil
}

func (b *Backend) Lock(ctx context.Context, objectPath string, info backend.LockInfo) (backend.Lock, error) {
	return backend.AcquireObjectLock(ctx, b, objectPath, info)
}

// Close closes the GCS client.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) fullPath(objectPath string) string {
	if b.prefix == "" {
		return objectPath
	}
	return path.Join(b.prefix, objectPath)
}

func (b *Backend) relative(name string) string {
	if b.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, strings.TrimSuffix(b.prefix, "/")+"/")
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

var _ backend.Backend = (*Backend)(nil)
