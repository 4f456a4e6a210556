package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/davidthor/clonectl/pkg/audit"
	"github.com/davidthor/clonectl/pkg/audit/backend"
	"github.com/davidthor/clonectl/pkg/audit/postgres"
)

// Environment variable names for audit backend configuration.
const (
	// EnvAuditBackend sets the audit backend type (local, s3, gcs, azurerm, postgres).
	EnvAuditBackend = "CLONECTL_AUDIT_BACKEND"

	// EnvAuditPrefix is the prefix for backend-specific config environment variables.
	// For example, CLONECTL_AUDIT_PATH sets the "path" config for the local backend,
	// CLONECTL_AUDIT_BUCKET sets the "bucket" config for S3/GCS backends.
	EnvAuditPrefix = "CLONECTL_AUDIT_"

	// postgresBackend stores records in a table instead of blobs; its only
	// config key is "dsn".
	postgresBackend = "postgres"
)

// auditSink is an opened audit store. blob is set only for blob backends,
// which support run locks.
type auditSink struct {
	store audit.Store
	blob  *audit.BlobStore
	close func() error
}

// resolveAuditConfig merges the audit backend settings.
//
// Configuration precedence (highest to lowest):
//  1. CLI flags (--audit-backend, --audit-backend-config)
//  2. Environment variables (CLONECTL_AUDIT_BACKEND, CLONECTL_AUDIT_*)
//  3. The audit-backend CLI setting
//  4. Hardcoded defaults (local backend with ~/.clonectl/audit)
func resolveAuditConfig(backendType string, backendConfig []string) backend.Config {
	effectiveBackend := "local"
	effectiveConfig := make(map[string]string)

	if setting := viper.GetString("audit-backend"); setting != "" {
		effectiveBackend = setting
	}

	if envBackend := os.Getenv(EnvAuditBackend); envBackend != "" {
		effectiveBackend = envBackend
	}

	for _, env := range os.Environ() {
		if strings.HasPrefix(env, EnvAuditPrefix) && !strings.HasPrefix(env, EnvAuditBackend) {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				key := strings.ToLower(strings.TrimPrefix(parts[0], EnvAuditPrefix))
				effectiveConfig[key] = parts[1]
			}
		}
	}

	if backendType != "" {
		effectiveBackend = backendType
	}
	for _, c := range backendConfig {
		parts := strings.SplitN(c, "=", 2)
		if len(parts) == 2 {
			effectiveConfig[parts[0]] = parts[1]
		}
	}

	return backend.Config{Type: effectiveBackend, Config: effectiveConfig}
}

// openAuditSink opens the audit store selected by flags and environment.
func openAuditSink(ctx context.Context, cmdFlags auditFlags, logger *zap.Logger) (*auditSink, error) {
	cfg := resolveAuditConfig(cmdFlags.backendType, cmdFlags.backendConfig)

	if cfg.Type == postgresBackend {
		dsn := cfg.Config["dsn"]
		if dsn == "" {
			return nil, fmt.Errorf("the postgres audit backend requires dsn (--audit-backend-config dsn=...)")
		}
		store, err := postgres.Open(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return &auditSink{store: store, close: store.Close}, nil
	}

	b, err := backend.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit backend: %w", err)
	}
	blob := audit.NewBlobStore(b)
	return &auditSink{store: blob, blob: blob, close: func() error { return nil }}, nil
}

// lister returns the store as an audit.Lister when it supports listing.
func (s *auditSink) lister() (audit.Lister, bool) {
	l, ok := s.store.(audit.Lister)
	return l, ok
}

type auditFlags struct {
	backendType   string
	backendConfig []string
}

// auditFlagsFrom reads the global audit flags.
func auditFlagsFrom(cmd *cobra.Command) auditFlags {
	t, _ := cmd.Flags().GetString("audit-backend")
	c, _ := cmd.Flags().GetStringArray("audit-backend-config")
	return auditFlags{backendType: t, backendConfig: c}
}
