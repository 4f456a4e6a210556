package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/davidthor/clonectl/pkg/audit"
	"github.com/davidthor/clonectl/pkg/engine"
	"github.com/davidthor/clonectl/pkg/validator"
)

func newApplyCmd() *cobra.Command {
	var (
		template    string
		variables   []string
		dryRun      bool
		autoApprove bool
		validate    bool
		whFlags     warehouseFlags
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Clone and provision roles as described by the configuration",
		Long: `Resolve the operation configuration, build the execution plan and run it
against the warehouse. Every step is written to the audit trail before it is
dispatched and again once it finishes.

Interrupting the command (Ctrl-C) lets the step in flight finish, records the
remaining steps as cancelled and exits.

Examples:
  clonectl apply
  clonectl apply --template analytics --var TARGET_DATABASE=ANALYTICS_QA
  clonectl apply --dry-run
  clonectl apply --auto-approve --validate
  clonectl apply --audit-backend s3 --audit-backend-config bucket=clone-audit`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := loadOperationConfig(ctx, template, variables)
			if err != nil {
				return formatConfigError(err)
			}

			inv := &engine.Invocation{Config: cfg, Logger: logger, DryRun: dryRun}
			plan, err := engine.Plan(inv)
			if err != nil {
				return err
			}

			engine.PrintPlanSummary(out, plan)
			if plan.IsEmpty() {
				return nil
			}

			if dryRun {
				result, err := engine.Execute(ctx, inv, plan)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "\nStatements (dry run):")
				for _, stmt := range result.Statements {
					fmt.Fprintf(out, "  %s;\n", stmt)
				}
				return nil
			}

			// Confirm unless --auto-approve is provided
			if !autoApprove && isInteractive() {
				if !confirm(cmd.InOrStdin(), out, "\nProceed? [Y/n]: ") {
					fmt.Fprintln(out, "Apply cancelled.")
					return nil
				}
			}

			sink, err := openAuditSink(ctx, auditFlagsFrom(cmd), logger)
			if err != nil {
				return err
			}
			defer func() { _ = sink.close() }()

			if sink.blob != nil {
				lock, err := sink.blob.Lock(ctx, audit.LockScope{
					Plan:      plan.Name,
					Operation: "apply",
					Who:       currentUser(),
				})
				if err != nil {
					return err
				}
				defer func() {
					if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
						logger.Warn("failed to release run lock", zap.Error(err))
					}
				}()
			}

			client, err := openWarehouse(ctx, cfg.Warehouse, whFlags, logger)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			progress := NewProgressTable(out, plan)
			progress.PrintInitial()

			inv.Client = client
			inv.Store = sink.store
			inv.OnStep = progress.Update

			result, runErr := engine.Execute(ctx, inv, plan)
			progress.PrintFinalSummary()
			if result != nil {
				fmt.Fprintf(out, "\nRun ID: %s\n", result.RunID)
			}
			if runErr != nil {
				return runErr
			}

			if validate {
				reports, err := engine.ValidateAll(ctx, inv)
				if err != nil {
					return err
				}
				return printReports(out, reports)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "Operation template to run instead of the top-level operations")
	cmd.Flags().StringArrayVar(&variables, "var", nil, "Set a variable (key=value)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the statements without executing them")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip confirmation prompt")
	cmd.Flags().BoolVar(&validate, "validate", false, "Validate every cloned database after a successful run")
	whFlags.register(cmd)

	return cmd
}

// confirm reads a yes/no answer; an empty answer is yes.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	var response string
	_, _ = fmt.Fscanln(in, &response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "" || response == "y" || response == "yes"
}

// isInteractive returns true if stdin is a terminal outside CI.
func isInteractive() bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	for _, env := range []string{"CI", "CONTINUOUS_INTEGRATION", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE", "JENKINS_URL"} {
		if os.Getenv(env) != "" {
			return false
		}
	}
	return true
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// printReports writes validation reports and fails when any has mismatches.
func printReports(w io.Writer, reports []*validator.Report) error {
	mismatches := 0
	for _, r := range reports {
		printReport(w, r)
		mismatches += len(r.Mismatches)
	}
	if mismatches > 0 {
		return fmt.Errorf("validation found %d mismatch(es)", mismatches)
	}
	return nil
}

func printReport(w io.Writer, r *validator.Report) {
	fmt.Fprintf(w, "\nValidation: %s -> %s\n", r.Source, r.Target)
	fmt.Fprintf(w, "  Tables: %d source, %d target\n", r.SourceTables, r.TargetTables)
	if r.OK() {
		fmt.Fprintln(w, "  ● No mismatches")
		return
	}
	for _, m := range r.Mismatches {
		line := fmt.Sprintf("  ✗ %-16s %s", m.Kind, m.Object)
		if m.Expected != "" || m.Actual != "" {
			line += fmt.Sprintf(" (expected %s, actual %s)", orDash(m.Expected), orDash(m.Actual))
		}
		if m.Detail != "" {
			line += ": " + m.Detail
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "  %d mismatch(es)\n", len(r.Mismatches))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
