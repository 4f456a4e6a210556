package azurerm

import (
	"net/http"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

func TestNewBackend_MissingStorageAccount(t *testing.T) {
	_, err := NewBackend(map[string]string{"container_name": "audit"})
	if err == nil {
		t.Fatal("expected error for missing storage account")
	}
	if !strings.Contains(err.Error(), "storage_account_name") {
		t.Errorf("expected error to mention storage_account_name, got: %v", err)
	}
}

func TestNewBackend_MissingContainer(t *testing.T) {
	_, err := NewBackend(map[string]string{"storage_account_name": "acct"})
	if err == nil {
		t.Fatal("expected error for missing container")
	}
	if !strings.Contains(err.Error(), "container_name") {
		t.Errorf("expected error to mention container_name, got: %v", err)
	}
}

func TestNewBackend_SASToken(t *testing.T) {
	b, err := NewBackend(map[string]string{
		"storage_account_name": "acct",
		"container_name":       "audit",
		"key":                  "clonectl",
		"sas_token":            "?sv=2022-11-02&sig=abc",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Type() != "azurerm" {
		t.Errorf("expected type 'azurerm', got %q", b.Type())
	}
	if got := b.(*Backend).fullPath("records/1.json"); got != "clonectl/records/1.json" {
		t.Errorf("unexpected full path %q", got)
	}
}

func TestIsConditionFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"blob exists", &azcore.ResponseError{ErrorCode: "BlobAlreadyExists", StatusCode: http.StatusConflict}, true},
		{"condition not met", &azcore.ResponseError{ErrorCode: "ConditionNotMet", StatusCode: http.StatusPreconditionFailed}, true},
		{"forbidden", &azcore.ResponseError{ErrorCode: "AuthorizationFailure", StatusCode: http.StatusForbidden}, false},
		{"plain error", http.ErrHandlerTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConditionFailed(tt.err); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestToPtr(t *testing.T) {
	p := toPtr(azcore.ETagAny)
	if *p != azcore.ETagAny {
		t.Errorf("expected %q, got %q", azcore.ETagAny, *p)
	}
}
