package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/davidthor/clonectl/pkg/validator"
)

func newDiscoverCmd() *cobra.Command {
	var (
		outputFormat string
		whFlags      warehouseFlags
	)

	cmd := &cobra.Command{
		Use:   "discover <database>",
		Short: "List the schemas and tables of a database",
		Long: `Read the schemas, tables and row counts of a database from its
INFORMATION_SCHEMA. Only read-only statements are issued.

Examples:
  clonectl discover PROD_DATALAKE
  clonectl discover PROD_DATALAKE -o yaml`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := loadOperationConfig(ctx, "", nil)
			if err != nil {
				return formatConfigError(err)
			}

			client, err := openWarehouse(ctx, cfg.Warehouse, whFlags, logger)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			structure, err := validator.NewIntrospector(client, logger).Discover(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			handled, err := writeStructured(out, outputFormat, structure)
			if handled || err != nil {
				return err
			}
			printStructure(out, structure)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	whFlags.register(cmd)

	return cmd
}

func printStructure(w io.Writer, s *validator.Structure) {
	fmt.Fprintf(w, "Database: %s\n", s.Database)
	for _, schema := range s.Schemas {
		fmt.Fprintf(w, "\n  %s (%d tables)\n", schema.Name, len(schema.Tables))
		for _, t := range schema.Tables {
			rows := "-"
			if t.RowCount >= 0 {
				rows = fmt.Sprintf("%d", t.RowCount)
			}
			fmt.Fprintf(w, "    %-40s %-12s %12s\n", t.Name, t.Kind, rows)
		}
	}
	fmt.Fprintf(w, "\n%d schema(s), %d table(s)\n", len(s.Schemas), s.TotalTables)
}
