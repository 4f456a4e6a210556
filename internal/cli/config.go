package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/clonectl/pkg/config"
	"github.com/davidthor/clonectl/pkg/errors"
	"github.com/davidthor/clonectl/pkg/secrets"
)

// settingKeys are the CLI settings that "config set" accepts, with the
// flag each one provides a default for.
var settingKeys = map[string]string{
	"file":          "Operation configuration file used when --file is not given",
	"log-level":     "Default log level",
	"log-format":    "Default log format (console, json)",
	"audit-backend": "Default audit backend type",
}

var envKeyReplacer = strings.NewReplacer("-", "_")

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI settings",
		Long:  `Get and set clonectl CLI settings stored in ~/.clonectl/config.yaml.`,
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigListCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a CLI setting",
		Long: `Set a CLI setting in ~/.clonectl/config.yaml.

Available keys:
  file             Operation configuration file used when --file is not given
  log-level        Default log level
  log-format       Default log format (console, json)
  audit-backend    Default audit backend type

Examples:
  clonectl config set file ./envs/dev.yaml
  clonectl config set audit-backend s3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if _, ok := settingKeys[key]; !ok {
				return fmt.Errorf("unknown setting %q\n\nAvailable keys:\n  %s", key, strings.Join(sortedSettingKeys(), "\n  "))
			}

			viper.Set(key, value)
			if err := writeSettings(); err != nil {
				return fmt.Errorf("failed to save settings: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a CLI setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := viper.GetString(args[0])
			if value == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not set\n", args[0])
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), value)
			}
			return nil
		},
	}
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all CLI settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Settings:")
			for _, key := range sortedSettingKeys() {
				fmt.Fprintf(out, "  %s = %s\n", key, viper.GetString(key))
			}
			return nil
		},
	}
}

func sortedSettingKeys() []string {
	keys := make([]string, 0, len(settingKeys))
	for k := range settingKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// writeSettings writes the current viper settings to the settings file.
func writeSettings() error {
	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir := filepath.Join(home, ".clonectl")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	return viper.WriteConfigAs(configPath)
}

// parseVars parses repeated --var key=value flags.
func parseVars(values []string) (map[string]string, error) {
	vars := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q (expected key=value)", v)
		}
		vars[key] = value
	}
	return vars, nil
}

// loadOperationConfig reads the --file configuration and resolves it for
// the selected template.
func loadOperationConfig(ctx context.Context, template string, vars []string) (*config.Config, error) {
	parsed, err := parseVars(vars)
	if err != nil {
		return nil, err
	}

	src, err := config.Load(viper.GetString("file"))
	if err != nil {
		return nil, err
	}

	return src.Resolve(ctx, config.ResolveOptions{
		Template: template,
		Vars:     parsed,
		Secrets:  secretsManager(),
	})
}

// secretsManager serves ${secret:...} references from a .env file in the
// working directory, then from the environment.
func secretsManager() *secrets.Manager {
	m := secrets.NewManager()
	if _, err := os.Stat(".env"); err == nil {
		if p, err := secrets.LoadFileProvider(".env"); err == nil {
			m.RegisterProvider(p)
		}
	}
	m.RegisterProvider(secrets.NewEnvProvider())
	return m
}

// formatConfigError lists every invalid field of a validation error, one
// per line.
func formatConfigError(err error) error {
	if errors.CodeOf(err) != errors.ErrCodeValidation {
		return err
	}
	var cerr *errors.Error
	if !stderrors.As(err, &cerr) {
		return err
	}
	fields, ok := cerr.Details["fields"].(map[string]string)
	if !ok || len(fields) == 0 {
		return err
	}

	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var sb strings.Builder
	sb.WriteString(cerr.Message)
	sb.WriteString("\n")
	for _, p := range paths {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", p, fields[p]))
	}
	return fmt.Errorf("%s", strings.TrimRight(sb.String(), "\n"))
}
