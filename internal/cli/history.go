package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidthor/clonectl/pkg/audit"
)

func newHistoryCmd() *cobra.Command {
	var (
		incomplete   bool
		limit        int
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "history [object]",
		Short: "Show the audit trail",
		Long: `Show audit records, oldest first. With an object name only the records that
touch it are shown; object names match case-insensitively (a database, a
schema as DB.SCHEMA, a table as DB.SCHEMA.TABLE, a role or a user). A schema
or table clone also matches the databases and schema that contain it.

With --incomplete only steps that were started but never recorded as finished
are shown. Each of them may have reached the warehouse and should be checked
by hand.

Examples:
  clonectl history
  clonectl history DEV_DATALAKE
  clonectl history SR_DATA_READER -o json
  clonectl history --incomplete --audit-backend s3 --audit-backend-config bucket=clone-audit`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			sink, err := openAuditSink(ctx, auditFlagsFrom(cmd), logger)
			if err != nil {
				return err
			}
			defer func() { _ = sink.close() }()

			var records []audit.Record
			if len(args) == 1 {
				records, err = sink.store.Query(ctx, args[0])
			} else {
				lister, ok := sink.lister()
				if !ok {
					return fmt.Errorf("the audit backend cannot list every record; pass an object name")
				}
				records, err = lister.All(ctx)
			}
			if err != nil {
				return err
			}

			audit.Sort(records)
			if incomplete {
				records = audit.Incomplete(records)
			}
			if limit > 0 && len(records) > limit {
				records = records[len(records)-limit:]
			}

			out := cmd.OutOrStdout()
			handled, err := writeStructured(out, outputFormat, records)
			if handled || err != nil {
				return err
			}
			printHistory(out, records)
			return nil
		},
	}

	cmd.Flags().BoolVar(&incomplete, "incomplete", false, "Only show steps with no recorded outcome")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the most recent N records")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")

	return cmd
}

func printHistory(w io.Writer, records []audit.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No audit records found.")
		return
	}

	fmt.Fprintf(w, "%-20s  %-8s  %-8s  %-22s  %s\n", "TIME", "RUN", "PHASE", "OUTCOME", "OPERATION")
	for _, r := range records {
		outcome := string(r.Outcome)
		if outcome == "" {
			outcome = "-"
		}
		if r.NoOp {
			outcome += " (no-op)"
		}
		fmt.Fprintf(w, "%-20s  %-8s  %-8s  %-22s  %s\n",
			r.Time().Local().Format(time.DateTime),
			shortID(r.RunID),
			r.Phase,
			outcome,
			r.Operation.Label)
		if r.Error != "" {
			fmt.Fprintf(w, "%22s%s\n", "", r.Error)
		}
	}
	fmt.Fprintf(w, "\n%d record(s)\n", len(records))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
