// Package cli implements the clonectl CLI commands.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Import audit backends to register them via init()
	_ "github.com/davidthor/clonectl/pkg/audit/backend/azurerm"
	_ "github.com/davidthor/clonectl/pkg/audit/backend/gcs"
	_ "github.com/davidthor/clonectl/pkg/audit/backend/local"
	_ "github.com/davidthor/clonectl/pkg/audit/backend/s3"
)

var (
	cfgFile string
)

// rootCmd represents the base command
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clonectl",
		Short: "Clone warehouse environments and provision their roles",
		Long: `clonectl clones databases, schemas and tables and provisions the roles,
grants and user assignments that go with them.

Operations are described in a YAML file, resolved against variables and
templates, ordered by their dependencies and executed one step at a time.
Every step is written to an audit trail before and after it runs.`,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "CLI settings file (default is $HOME/.clonectl/config.yaml)")
	cmd.PersistentFlags().StringP("file", "f", "clonectl.yaml", "Operation configuration file")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	cmd.PersistentFlags().String("audit-backend", "", "Audit backend type (local, s3, gcs, azurerm, postgres)")
	cmd.PersistentFlags().StringArray("audit-backend-config", nil, "Audit backend configuration (key=value)")

	// Bind to viper
	for _, name := range []string{"file", "log-level", "log-format", "audit-backend"} {
		_ = viper.BindPFlag(name, cmd.PersistentFlags().Lookup(name))
	}

	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newApplyCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	viper.SetEnvPrefix("CLONECTL")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in home directory
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.clonectl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	// Read config file if it exists
	_ = viper.ReadInConfig()
}
