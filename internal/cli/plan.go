package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/clonectl/pkg/config"
	"github.com/davidthor/clonectl/pkg/engine"
	"github.com/davidthor/clonectl/pkg/engine/planner"
	"github.com/davidthor/clonectl/pkg/operation"
)

// planView is the json/yaml form of a plan.
type planView struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	Steps     []stepView `json:"steps" yaml:"steps"`
	Summary   struct {
		Clone  int `json:"clone" yaml:"clone"`
		Create int `json:"create_roles" yaml:"create_roles"`
		Grant  int `json:"grants" yaml:"grants"`
		Assign int `json:"user_assignments" yaml:"user_assignments"`
	} `json:"summary" yaml:"summary"`
}

type stepView struct {
	Index     int                `json:"index" yaml:"index"`
	ID        string             `json:"id" yaml:"id"`
	Operation operation.Snapshot `json:"operation" yaml:"operation"`
	DependsOn []string           `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

func newPlanView(plan *planner.Plan) planView {
	v := planView{ID: plan.ID, Name: plan.Name, CreatedAt: plan.CreatedAt}
	for _, step := range plan.Steps {
		v.Steps = append(v.Steps, stepView{
			Index:     step.Index + 1,
			ID:        step.ID,
			Operation: operation.Describe(step.Operation),
			DependsOn: step.DependsOn,
		})
	}
	v.Summary.Clone = plan.ToClone
	v.Summary.Create = plan.ToCreate
	v.Summary.Grant = plan.ToGrant
	v.Summary.Assign = plan.ToAssign
	return v
}

func newPlanCmd() *cobra.Command {
	var (
		template      string
		variables     []string
		outputFormat  string
		listTemplates bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the steps a run would execute",
		Long: `Resolve the operation configuration and print the ordered execution plan
without connecting to the warehouse.

Examples:
  clonectl plan
  clonectl plan -f envs/dev.yaml --var TARGET_DATABASE=DEV_2
  clonectl plan --template analytics -o json
  clonectl plan --list-templates`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if listTemplates {
				src, err := config.Load(viper.GetString("file"))
				if err != nil {
					return err
				}
				names := src.Templates()
				if len(names) == 0 {
					fmt.Fprintln(out, "No operation templates defined.")
					return nil
				}
				fmt.Fprintln(out, "Operation templates:")
				for _, name := range names {
					fmt.Fprintf(out, "  %s\n", name)
					vars, err := src.Variables(config.ResolveOptions{Template: name})
					if err != nil {
						return err
					}
					keys := make([]string, 0, len(vars))
					for k := range vars {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(out, "      %s=%s\n", k, vars[k])
					}
				}
				return nil
			}

			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := loadOperationConfig(cmd.Context(), template, variables)
			if err != nil {
				return formatConfigError(err)
			}

			plan, err := engine.Plan(&engine.Invocation{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}

			handled, err := writeStructured(out, outputFormat, newPlanView(plan))
			if handled || err != nil {
				return err
			}
			engine.PrintPlanSummary(out, plan)
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "Operation template to run instead of the top-level operations")
	cmd.Flags().StringArrayVar(&variables, "var", nil, "Set a variable (key=value)")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&listTemplates, "list-templates", false, "List the operation templates in the configuration file")

	return cmd
}
