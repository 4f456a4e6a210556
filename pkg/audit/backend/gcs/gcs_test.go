package gcs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/davidthor/clonectl/pkg/audit/backend"
	"google.golang.org/api/googleapi"
)

func TestNewBackend_MissingBucket(t *testing.T) {
	_, err := NewBackend(map[string]string{})
	if err == nil {
		t.Fatal("expected error for missing bucket")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("expected error message to mention bucket, got: %v", err)
	}
}

func TestNewBackend_Emulator(t *testing.T) {
	b, err := NewBackend(map[string]string{
		"bucket":   "audit-bucket",
		"prefix":   "clonectl",
		"endpoint": "http://127.0.0.1:4443/storage/v1/",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.(*Backend).Close()

	if b.Type() != "gcs" {
		t.Errorf("expected type 'gcs', got %q", b.Type())
	}
	if b.(*Backend).prefix != "clonectl" {
		t.Errorf("expected prefix 'clonectl', got %q", b.(*Backend).prefix)
	}
}

func TestBackend_Paths(t *testing.T) {
	tests := []struct {
		prefix   string
		path     string
		expected string
	}{
		{"", "records/1.json", "records/1.json"},
		{"clonectl", "records/1.json", "clonectl/records/1.json"},
		{"clonectl/", "records/1.json", "clonectl/records/1.json"},
	}

	for _, tt := range tests {
		b := &Backend{prefix: tt.prefix}
		full := b.fullPath(tt.path)
		if full != tt.expected {
			t.Errorf("fullPath(%q) with prefix %q: expected %q, got %q", tt.path, tt.prefix, tt.expected, full)
		}
		if rel := b.relative(full); rel != tt.path {
			t.Errorf("relative(%q) with prefix %q: expected %q, got %q", full, tt.prefix, tt.path, rel)
		}
	}
}

func TestWriteError(t *testing.T) {
	b := &Backend{bucket: "audit-bucket"}

	conflict := fmt.Errorf("writer close: %w", &googleapi.Error{Code: http.StatusPreconditionFailed, Message: "conditionNotMet"})
	if err := b.writeError("records/1.json", conflict); !errors.Is(err, backend.ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}

	other := &googleapi.Error{Code: http.StatusForbidden, Message: "denied"}
	err := b.writeError("records/1.json", other)
	if errors.Is(err, backend.ErrExists) {
		t.Error("403 must not be reported as an existing object")
	}
	if !strings.Contains(err.Error(), "gs://audit-bucket/records/1.json") {
		t.Errorf("expected object URL in error, got %v", err)
	}
}
