package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidthor/clonectl/pkg/engine"
	"github.com/davidthor/clonectl/pkg/validator"
)

func newValidateCmd() *cobra.Command {
	var (
		template     string
		variables    []string
		configOnly   bool
		outputFormat string
		whFlags      warehouseFlags
	)

	cmd := &cobra.Command{
		Use:   "validate [source target]",
		Short: "Compare clones against their sources",
		Long: `Compare cloned databases or schemas against their sources: objects present
in the source but missing from the target, row counts outside the configured
tolerance and grants that differ from the configured roles.

Without arguments every database and schema clone in the configuration is
checked. With --config-only the configuration is resolved and checked without
connecting to the warehouse.

Examples:
  clonectl validate
  clonectl validate PROD_DATALAKE DEV_DATALAKE
  clonectl validate PROD_DATALAKE.RAW DEV_DATALAKE.RAW -o json
  clonectl validate --config-only --template analytics`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or <source> <target>, got %d argument(s)", len(args))
			}
			return nil
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := loadOperationConfig(ctx, template, variables)
			if err != nil {
				return formatConfigError(err)
			}
			if _, err := cfg.Roles(); err != nil {
				return err
			}

			if configOnly {
				fmt.Fprintln(out, "Configuration is valid!")
				return nil
			}

			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			client, err := openWarehouse(ctx, cfg.Warehouse, whFlags, logger)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			inv := &engine.Invocation{Config: cfg, Client: client, Logger: logger}

			var reports []*validator.Report
			if len(args) == 2 {
				report, err := engine.Validate(ctx, inv, args[0], args[1])
				if err != nil {
					return err
				}
				reports = append(reports, report)
			} else {
				if reports, err = engine.ValidateAll(ctx, inv); err != nil {
					return err
				}
				if len(reports) == 0 {
					fmt.Fprintln(out, "No database or schema clones to validate.")
					return nil
				}
			}

			handled, err := writeStructured(out, outputFormat, reports)
			if err != nil {
				return err
			}
			if handled {
				for _, r := range reports {
					if !r.OK() {
						return fmt.Errorf("validation found mismatches")
					}
				}
				return nil
			}
			return printReports(out, reports)
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "Operation template to validate instead of the top-level operations")
	cmd.Flags().StringArrayVar(&variables, "var", nil, "Set a variable (key=value)")
	cmd.Flags().BoolVar(&configOnly, "config-only", false, "Only resolve and check the configuration")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	whFlags.register(cmd)

	return cmd
}
