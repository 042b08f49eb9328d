package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/flowserve/internal/manifest"
	"github.com/me/flowserve/internal/runner"
	"github.com/me/flowserve/pkg/model"
)

func newFlowRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "flow-run",
		Aliases: []string{"flow-runs"},
		Short:   "Inspect, cancel and execute flow runs",
	}
	cmd.AddCommand(
		newFlowRunListCmd(),
		newFlowRunInspectCmd(),
		newFlowRunCancelCmd(),
		newFlowRunWatchCmd(),
		newFlowRunExecuteCmd(),
	)
	return cmd
}

func newFlowRunListCmd() *cobra.Command {
	var deployment string
	var states []string
	var limit int
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List flow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := model.FlowRunFilter{Limit: limit}
			if deployment != "" {
				d, err := lookupDeployment(cmd, deployment)
				if err != nil {
					return err
				}
				filter.DeploymentIDs = []string{d.ID}
			}
			for _, s := range states {
				st := model.StateType(strings.ToUpper(s))
				if !st.Valid() {
					return fmt.Errorf("unknown state %q", s)
				}
				filter.States = append(filter.States, st)
			}

			runs, err := api.ListFlowRuns(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list flow runs: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No flow runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-24s  %-11s  %-20s  %s\n", "ID", "NAME", "STATE", "FLOW", "EXPECTED START")
			fmt.Fprintf(out, "%-36s  %-24s  %-11s  %-20s  %s\n", "--", "----", "-----", "----", "--------------")
			for _, fr := range runs {
				fmt.Fprintf(out, "%-36s  %-24s  %-11s  %-20s  %s\n",
					fr.ID, fr.Name, fr.State.Type, fr.FlowName, fr.ExpectedStartTime.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&deployment, "deployment", "", "Only runs of this deployment (flow/name or id)")
	cmd.Flags().StringSliceVar(&states, "state", nil, "Only runs in these states (repeatable or comma separated)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of runs")
	return cmd
}

func newFlowRunInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <flow_run_id>",
		Short: "Show a flow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fr, err := api.GetFlowRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get flow run: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Flow run: %s (%s)\n", fr.Name, fr.ID)
			fmt.Fprintf(out, "  Flow:       %s\n", fr.FlowName)
			fmt.Fprintf(out, "  Deployment: %s\n", fr.DeploymentID)
			fmt.Fprintf(out, "  State:      %s\n", fr.State.Type)
			if fr.State.Message != "" {
				fmt.Fprintf(out, "  Message:    %s\n", fr.State.Message)
			}
			fmt.Fprintf(out, "  Expected:   %s\n", fr.ExpectedStartTime.Format(time.RFC3339))
			if fr.StartTime != nil {
				fmt.Fprintf(out, "  Started:    %s\n", fr.StartTime.Format(time.RFC3339))
			}
			if fr.EndTime != nil {
				fmt.Fprintf(out, "  Ended:      %s\n", fr.EndTime.Format(time.RFC3339))
			}
			if fr.RunnerName != "" {
				fmt.Fprintf(out, "  Runner:     %s\n", fr.RunnerName)
			}
			for k, v := range fr.Parameters {
				fmt.Fprintf(out, "  Param:      %s=%v\n", k, v)
			}
			return nil
		},
	}
}

func newFlowRunCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <flow_run_id>",
		Short: "Request cancellation of a flow run",
		Long: "Moves the flow run to CANCELLING. The runner executing it stops the flow " +
			"and reports CANCELLED; a run that has not started is cancelled by its runner on the next poll.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fr, err := api.SetFlowRunState(cmd.Context(), args[0], model.StateUpdate{
				Type:    model.StateCancelling,
				Message: "Cancellation requested from the CLI",
			})
			if err != nil {
				return fmt.Errorf("cancel flow run: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Flow run %s: %s\n", fr.ID, fr.State.Type)
			return nil
		},
	}
}

func newFlowRunWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <flow_run_id>",
		Short: "Follow a flow run's state until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			final, err := api.WatchFlowRun(cmd.Context(), args[0], func(event string, fr *model.FlowRun) {
				if event == "complete" {
					return
				}
				line := fmt.Sprintf("%s  %-11s", fr.State.Timestamp.Format(time.RFC3339), fr.State.Type)
				if fr.State.Message != "" {
					line += "  " + fr.State.Message
				}
				fmt.Fprintln(out, line)
			})
			if err != nil {
				return fmt.Errorf("watch flow run: %w", err)
			}
			fmt.Fprintf(out, "Flow run %s finished: %s\n", final.ID, final.State.Type)
			return nil
		},
	}
}

func newFlowRunExecuteCmd() *cobra.Command {
	var manifestPath string
	cmd := &cobra.Command{
		Use:   "execute <flow_run_id>",
		Short: "Execute one flow run in the foreground",
		Long: "Loads the deployments of a manifest so their flows are known, then executes " +
			"the given flow run once and exits with its final state.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			r := runner.New(api, runnerConfig(cfg), logger)
			for _, d := range deps {
				if _, err := r.AddDeployment(cmd.Context(), d); err != nil {
					return fmt.Errorf("add deployment %s: %w", d.FullName(), err)
				}
			}
			state, err := r.ExecuteFlowRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("execute flow run: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Flow run %s finished: %s\n", args[0], state)
			if state != model.StateCompleted {
				return fmt.Errorf("flow run %s ended in state %s", args[0], state)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Manifest that defines the flow (required)")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}
