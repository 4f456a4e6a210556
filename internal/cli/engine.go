package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/snowflakedb/gosnowflake"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/davidthor/clonectl/pkg/config"
	"github.com/davidthor/clonectl/pkg/logging"
	"github.com/davidthor/clonectl/pkg/secrets"
	"github.com/davidthor/clonectl/pkg/warehouse/sqlclient"
)

// newLogger builds the logger selected by --log-level and --log-format.
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:  viper.GetString("log-level"),
		Format: viper.GetString("log-format"),
		Output: cmd.ErrOrStderr(),
	})
}

// warehouseFlags are shared by every command that connects to the warehouse.
type warehouseFlags struct {
	promptPassword bool
}

func (f *warehouseFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.promptPassword, "prompt-password", false, "Prompt for the warehouse password when no other source provides one")
}

// openWarehouse connects to the warehouse described by cfg.
func openWarehouse(ctx context.Context, cfg config.WarehouseConfig, flags warehouseFlags, logger *zap.Logger) (*sqlclient.Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("warehouse.dsn is not configured")
	}

	password, err := warehousePassword(ctx, cfg, flags)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if password != "" {
		if dsn, err = withPassword(cfg.Driver, dsn, password); err != nil {
			return nil, err
		}
	}

	return sqlclient.Open(ctx, sqlclient.Config{
		Driver:       cfg.Driver,
		DSN:          dsn,
		MaxOpenConns: cfg.MaxOpenConns,
	}, logger)
}

// warehousePassword looks up the password: AWS Secrets Manager, then
// password_env (.env, then environment), then an interactive prompt.
func warehousePassword(ctx context.Context, cfg config.WarehouseConfig, flags warehouseFlags) (string, error) {
	if cfg.PasswordSecret != "" {
		p, err := secrets.NewAWSProvider(ctx, cfg.Region, os.Getenv("CLONECTL_AWS_ENDPOINT"))
		if err != nil {
			return "", err
		}
		v, err := p.Get(ctx, cfg.PasswordSecret)
		if err != nil {
			return "", fmt.Errorf("failed to read warehouse password from %s: %w", cfg.PasswordSecret, err)
		}
		return v, nil
	}

	if cfg.PasswordEnv != "" {
		v, err := secretsManager().Get(ctx, cfg.PasswordEnv)
		if err == nil {
			return v, nil
		}
		if !flags.promptPassword {
			return "", fmt.Errorf("warehouse password variable %s is not set", cfg.PasswordEnv)
		}
	}

	if flags.promptPassword {
		return secrets.PromptPassword("Warehouse password: ", os.Stdin, os.Stderr)
	}
	return "", nil
}

// withPassword sets the password of a Snowflake, URL or key=value DSN.
func withPassword(driver, dsn, password string) (string, error) {
	if driver == "" || driver == sqlclient.DefaultDriver {
		u, err := url.Parse("snowflake://" + dsn)
		if err != nil {
			return "", fmt.Errorf("invalid warehouse dsn: %w", err)
		}
		user := ""
		if u.User != nil {
			user = u.User.Username()
		}
		u.User = url.UserPassword(user, password)
		dsn = strings.TrimPrefix(u.String(), "snowflake://")
		if _, err := gosnowflake.ParseDSN(dsn); err != nil {
			return "", fmt.Errorf("invalid snowflake dsn: %w", err)
		}
		return dsn, nil
	}

	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid warehouse dsn: %w", err)
		}
		user := ""
		if u.User != nil {
			user = u.User.Username()
		}
		u.User = url.UserPassword(user, password)
		return u.String(), nil
	}

	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(password)
	return fmt.Sprintf("%s password='%s'", strings.TrimSpace(dsn), escaped), nil
}
