package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/flowserve/pkg/model"
)

func newDeploymentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployment",
		Aliases: []string{"deployments", "dep"},
		Short:   "Inspect and trigger deployments",
	}
	cmd.AddCommand(
		newDeploymentListCmd(),
		newDeploymentInspectCmd(),
		newDeploymentRunCmd(),
		newDeploymentScheduleCmd("pause", "Deactivate the schedule of a deployment", false),
		newDeploymentScheduleCmd("resume", "Activate the schedule of a deployment", true),
	)
	return cmd
}

func newDeploymentListCmd() *cobra.Command {
	var flowName string
	var limit, offset int
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, total, err := api.ListDeployments(cmd.Context(), model.ListOptions{
				Limit:    limit,
				Offset:   offset,
				FlowName: flowName,
			})
			if err != nil {
				return fmt.Errorf("list deployments: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(deps) == 0 {
				fmt.Fprintln(out, "No deployments found.")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-40s  %-8s  %s\n", "ID", "NAME", "ACTIVE", "SCHEDULE")
			fmt.Fprintf(out, "%-36s  %-40s  %-8s  %s\n", "--", "----", "------", "--------")
			for _, d := range deps {
				fmt.Fprintf(out, "%-36s  %-40s  %-8t  %s\n", d.ID, d.FullName(), d.IsScheduleActive, d.Schedule.String())
			}
			if offset+len(deps) < total {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(deps), total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flowName, "flow", "", "Only deployments of this flow")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of deployments")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of deployments to skip")
	return cmd
}

// lookupDeployment resolves a "flow/name" reference or a deployment ID.
func lookupDeployment(cmd *cobra.Command, ref string) (*model.Deployment, error) {
	var (
		d   *model.Deployment
		err error
	)
	if _, _, ok := model.SplitDeploymentFullName(ref); ok {
		d, err = api.GetDeploymentByName(cmd.Context(), ref)
	} else {
		d, err = api.GetDeployment(cmd.Context(), ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", ref, err)
	}
	if d == nil {
		return nil, fmt.Errorf("deployment %s not found", ref)
	}
	return d, nil
}

func newDeploymentInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <flow/name | id>",
		Short: "Show a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := lookupDeployment(cmd, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Deployment: %s\n", d.FullName())
			fmt.Fprintf(out, "  ID:       %s\n", d.ID)
			fmt.Fprintf(out, "  Schedule: %s\n", d.Schedule.String())
			fmt.Fprintf(out, "  Active:   %t\n", d.IsScheduleActive)
			if d.Description != "" {
				fmt.Fprintf(out, "  About:    %s\n", d.Description)
			}
			if len(d.Tags) > 0 {
				fmt.Fprintf(out, "  Tags:     %v\n", d.Tags)
			}
			for k, v := range d.Parameters {
				fmt.Fprintf(out, "  Param:    %s=%v\n", k, v)
			}
			fmt.Fprintf(out, "  Updated:  %s\n", d.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newDeploymentRunCmd() *cobra.Command {
	var params []string
	var at string
	cmd := &cobra.Command{
		Use:   "run <flow/name | id>",
		Short: "Create a flow run of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseParams(params)
			if err != nil {
				return err
			}
			create := model.FlowRunCreate{Parameters: overrides}
			if at != "" {
				start, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at %q: %w", at, err)
				}
				create.ExpectedStartTime = &start
			}

			d, err := lookupDeployment(cmd, args[0])
			if err != nil {
				return err
			}
			run, err := api.CreateFlowRun(cmd.Context(), d.ID, create)
			if err != nil {
				return fmt.Errorf("create flow run: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created flow run %s (%s) for %s, starts %s\n",
				run.ID, run.Name, d.FullName(), run.ExpectedStartTime.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Parameter override key=value (repeatable)")
	cmd.Flags().StringVar(&at, "at", "", "Scheduled start time (RFC3339, default now)")
	return cmd
}

func newDeploymentScheduleCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <flow/name | id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := lookupDeployment(cmd, args[0])
			if err != nil {
				return err
			}
			if err := api.SetScheduleActive(cmd.Context(), d.ID, active); err != nil {
				return fmt.Errorf("%s schedule: %w", use, err)
			}
			verb := "paused"
			if active {
				verb = "resumed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule of %s %s\n", d.FullName(), verb)
			return nil
		},
	}
}
